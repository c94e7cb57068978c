// ABOUTME: REST client for conversational agents hosted on Vertex AI Agent Engine
// ABOUTME: Session lifecycle via class-method dispatch, state patches via appendEvent

package vertexai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Config selects the project and region the engines are deployed in.
// BaseURL, HTTPClient, and TokenSource exist for tests; production code
// leaves them zero and gets the regional endpoint plus Application Default
// Credentials.
type Config struct {
	Project  string
	Location string

	BaseURL     string
	HTTPClient  *http.Client
	TokenSource oauth2.TokenSource
}

// Client talks to the agent-hosting REST API. Engines are addressed by bare
// numeric id; the client expands them to full resource names.
type Client struct {
	project  string
	location string
	baseURL  string
	http     *http.Client
	tokens   oauth2.TokenSource
	logger   *slog.Logger
}

// EngineInfo is the subset of the engine resource the backend cares about.
type EngineInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	CreateTime  string `json:"createTime"`
}

// Session is a managed conversation session as the deployed runtime reports
// it. State carries whatever the agent has written so far.
type Session struct {
	ID             string         `json:"id"`
	AppName        string         `json:"app_name"`
	UserID         string         `json:"user_id"`
	State          map[string]any `json:"state"`
	LastUpdateTime float64        `json:"last_update_time"`
}

// New builds a client, resolving Application Default Credentials unless the
// config injects a token source.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Project == "" || cfg.Location == "" {
		return nil, errors.New("vertexai: project and location are required")
	}

	tokens := cfg.TokenSource
	if tokens == nil {
		ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("resolving default credentials: %w", err)
		}
		tokens = ts
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1beta1", cfg.Location)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// no client-level timeout: streamQuery responses stay open for a
		// whole model turn, so deadlines come from the request context
		httpClient = &http.Client{}
	}

	return &Client{
		project:  cfg.Project,
		location: cfg.Location,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		http:     httpClient,
		tokens:   tokens,
		logger:   logger,
	}, nil
}

// engineName expands a bare engine id into the full resource name.
func (c *Client) engineName(engineID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/reasoningEngines/%s", c.project, c.location, engineID)
}

// Engine fetches the engine resource. Callers use it to verify an engine id
// is live before creating sessions against it.
func (c *Client) Engine(ctx context.Context, engineID string) (*EngineInfo, error) {
	var info EngineInfo
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/"+c.engineName(engineID), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateSession starts a managed session for userID, optionally seeded with
// an initial state map.
func (c *Client) CreateSession(ctx context.Context, engineID, userID string, initialState map[string]any) (*Session, error) {
	input := map[string]any{"user_id": userID}
	if initialState != nil {
		input["state"] = initialState
	}

	var sess Session
	if err := c.query(ctx, engineID, "create_session", input, &sess); err != nil {
		return nil, err
	}
	c.logger.Debug("session created", "engine", engineID, "session", sess.ID, "user", userID)
	return &sess, nil
}

// GetSession fetches a session, including its current state.
func (c *Client) GetSession(ctx context.Context, engineID, userID, sessionID string) (*Session, error) {
	input := map[string]any{"user_id": userID, "session_id": sessionID}
	var sess Session
	if err := c.query(ctx, engineID, "get_session", input, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes a session from the engine. The service's own error
// comes back unchanged; callers decide how forgiving to be about sessions
// that are already gone.
func (c *Client) DeleteSession(ctx context.Context, engineID, userID, sessionID string) error {
	input := map[string]any{"user_id": userID, "session_id": sessionID}
	return c.query(ctx, engineID, "delete_session", input, nil)
}

// AppendStateDelta merges delta into a session's state. The deployed runtime
// exposes no state-patch class method, so the patch rides the sessions
// resource as a synthetic system event carrying actions.stateDelta.
func (c *Client) AppendStateDelta(ctx context.Context, engineID, sessionID string, delta map[string]any) error {
	url := fmt.Sprintf("%s/%s/sessions/%s:appendEvent", c.baseURL, c.engineName(engineID), sessionID)
	body := map[string]any{
		"author":       "system",
		"invocationId": uuid.NewString(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
		"actions":      map[string]any{"stateDelta": delta},
	}
	return c.doJSON(ctx, http.MethodPost, url, body, nil)
}

// query dispatches a class method on the deployed engine and decodes the
// response's output field into out when out is non-nil.
func (c *Client) query(ctx context.Context, engineID, method string, input map[string]any, out any) error {
	url := fmt.Sprintf("%s/%s:query", c.baseURL, c.engineName(engineID))
	body := map[string]any{"class_method": method, "input": input}

	var envelope struct {
		Output json.RawMessage `json:"output"`
	}
	if err := c.doJSON(ctx, http.MethodPost, url, body, &envelope); err != nil {
		return err
	}
	if out == nil || len(envelope.Output) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Output, out); err != nil {
		return fmt.Errorf("decoding %s output: %w", method, err)
	}
	return nil
}

// doJSON performs one authenticated request/response cycle.
func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	resp, err := c.send(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// send builds and issues one authenticated HTTP request. The caller owns the
// response body.
func (c *Client) send(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("fetching access token: %w", err)
	}
	token.SetAuthHeader(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}
