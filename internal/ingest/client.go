// ABOUTME: Client for the document ingestion service backing owner uploads
// ABOUTME: Ships a file and gets back its storage URI and retrieval corpus

package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the ingestion service settings.
type Config struct {
	// BaseURL is the ingestion service root, e.g. http://ingest:8090.
	BaseURL string
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// Result describes an ingested document: where it landed and which
// retrieval corpus now covers it.
type Result struct {
	Filename string `json:"filename"`
	URI      string `json:"uri"`
	Corpus   string `json:"corpus"`
}

// StateEntry is the shape appended to the owner session's uploaded_docs
// list. The agents read these keys, so they are part of the state contract.
func (r Result) StateEntry() map[string]any {
	return map[string]any{
		"filename": r.Filename,
		"gcs_uri":  r.URI,
	}
}

// Client talks to the ingestion service HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates an ingestion client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ingest base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    httpClient,
		logger:  logger.With("component", "ingest"),
	}, nil
}

// Ingest uploads the file at path and registers it with the retrieval
// corpus for the named business. The file's MIME type is guessed from its
// extension.
func (c *Client) Ingest(ctx context.Context, path, business string) (Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("opening document: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	header.Set("Content-Type", contentTypeFor(path))
	part, err := mw.CreatePart(header)
	if err != nil {
		return Result{}, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return Result{}, fmt.Errorf("reading document: %w", err)
	}
	if err := mw.WriteField("business", business); err != nil {
		return Result{}, fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/documents", &buf)
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("sending document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, c.handleErrorResponse(resp)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decoding ingest response: %w", err)
	}

	c.logger.Info("document ingested",
		"filename", res.Filename, "corpus", res.Corpus)
	return res, nil
}

// handleErrorResponse extracts an error message from a non-2xx response.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("ingest error (%d): %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("ingest service returned status %d: %s", resp.StatusCode, string(body))
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
