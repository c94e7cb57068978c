// ABOUTME: HTTP client for the leadflow server API
// ABOUTME: JSON requests with bearer auth on the admin endpoints

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/leadflow/internal/state"
)

// apiClient communicates with the leadflow HTTP API.
type apiClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// healthInfo is the body of GET /health.
type healthInfo struct {
	Message   string `json:"message"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// chatResponse is the body of POST /owner/chat.
type chatResponse struct {
	Response         string          `json:"response"`
	SessionID        string          `json:"session_id"`
	PipelineComplete bool            `json:"pipeline_complete"`
	Pipeline         *state.Pipeline `json:"pipeline_payload"`
}

// activateResponse is the body of POST /admin/pipeline/activate.
type activateResponse struct {
	Status   string          `json:"status"`
	Pipeline *state.Pipeline `json:"pipeline"`
}

// rederiveResponse is the body of POST /admin/state/rederive.
type rederiveResponse struct {
	Status           string `json:"status"`
	PipelineComplete bool   `json:"pipeline_complete"`
	TotalStages      int    `json:"total_stages"`
}

// resetResponse is the body of POST /admin/reset.
type resetResponse struct {
	Status          string `json:"status"`
	SessionsCleaned int    `json:"sessions_cleaned"`
}

func (c *apiClient) Health(ctx context.Context) (*healthInfo, error) {
	var out healthInfo
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pipeline returns the active pipeline, or nil when none is activated (the
// server encodes that as a JSON null).
func (c *apiClient) Pipeline(ctx context.Context) (*state.Pipeline, error) {
	var out *state.Pipeline
	if err := c.get(ctx, "/state/pipeline", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) Leads(ctx context.Context) ([]state.Lead, error) {
	var out []state.Lead
	if err := c.get(ctx, "/state/leads", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) OwnerChat(ctx context.Context, content, sessionID string) (*chatResponse, error) {
	req := map[string]string{"content": content}
	if sessionID != "" {
		req["session_id"] = sessionID
	}
	var out chatResponse
	if err := c.post(ctx, "/owner/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Activate(ctx context.Context) (*activateResponse, error) {
	var out activateResponse
	if err := c.post(ctx, "/admin/pipeline/activate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Rederive(ctx context.Context, sessionID string) (*rederiveResponse, error) {
	var req any
	if sessionID != "" {
		req = map[string]string{"session_id": sessionID}
	}
	var out rederiveResponse
	if err := c.post(ctx, "/admin/state/rederive", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Reset(ctx context.Context) (*resetResponse, error) {
	var out resetResponse
	if err := c.post(ctx, "/admin/reset", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// handleErrorResponse extracts the error message from non-2xx responses,
// preferring the server's JSON error field.
func (c *apiClient) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
	}

	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
