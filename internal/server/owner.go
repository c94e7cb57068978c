// ABOUTME: Owner-facing handlers for the pipeline design chat and uploads
// ABOUTME: Accepted designs activate the pipeline and notify every dashboard

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/leadflow/internal/session"
	"github.com/2389/leadflow/internal/state"
	"github.com/2389/leadflow/internal/ws"
)

// uploadRef points at a file previously stored by the upload endpoint.
type uploadRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ownerChatRequest is the JSON request body for POST /owner/chat.
type ownerChatRequest struct {
	Content   string      `json:"content"`
	SessionID string      `json:"session_id,omitempty"`
	Files     []uploadRef `json:"files,omitempty"`
}

// ownerChatResponse is the JSON response for POST /owner/chat. The payload
// is included whenever extraction produced one, complete or not, so the UI
// can preview a design in progress.
type ownerChatResponse struct {
	Response         string          `json:"response"`
	SessionID        string          `json:"session_id"`
	PipelineComplete bool            `json:"pipeline_complete"`
	PipelinePayload  *state.Pipeline `json:"pipeline_payload,omitempty"`
	Timestamp        string          `json:"timestamp"`
}

// handleOwnerChat handles POST /owner/chat requests.
//
// Responsibilities:
//  1. Resolve the owner's design session, creating one on first contact
//  2. Ingest any referenced uploads and record them on the session
//  3. Run the bounded query against the pipeline agent
//  4. Judge completion and extract the payload from one state snapshot
//  5. On an accepted design: activate, persist the seed, broadcast
//  6. Append the exchange to the owner conversation log
func (s *Server) handleOwnerChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ownerChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	ctx := r.Context()
	sess, err := s.sessions.GetOrCreateOwnerSession(ctx, req.SessionID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if sess.ID != req.SessionID {
		s.store.SetOwnerSession(sess.ID)
		s.store.PutActiveSession(sess.ID, state.SessionInfo{
			UserID:    sess.UserID,
			Agent:     sess.Agent,
			CreatedAt: time.Now().UTC(),
		})
	}

	for _, ref := range req.Files {
		if err := s.ingestUpload(ctx, sess.ID, ref); err != nil {
			s.logger.Error("document ingestion failed", "file", ref.Name, "error", err)
			s.respondError(w, err)
			return
		}
	}

	queryCtx, cancel := s.queryContext(ctx)
	defer cancel()
	response, err := s.sessions.Query(queryCtx, sess.ID, req.Content)
	if err != nil {
		s.respondError(w, err)
		return
	}

	// One state fetch feeds both the completion check and the payload
	// extraction so they judge the same snapshot.
	complete := false
	var payload *state.Pipeline
	raw, stateErr := s.sessions.SessionState(ctx, sess.ID)
	if stateErr != nil {
		s.logger.Warn("reading session state failed", "session_id", sess.ID, "error", stateErr)
	} else {
		complete = session.PipelineLooksComplete(raw)
		payload, stateErr = session.PayloadFromState(raw, s.logger)
		if stateErr != nil {
			s.logger.Warn("pipeline extraction failed", "session_id", sess.ID, "error", stateErr)
		}
	}

	if complete && payload != nil {
		s.activatePipeline(ctx, *payload, raw)
	}

	s.store.AppendOwnerMessage(req.Content, response)

	s.writeJSON(w, http.StatusOK, ownerChatResponse{
		Response:         response,
		SessionID:        sess.ID,
		PipelineComplete: complete,
		PipelinePayload:  payload,
		Timestamp:        apiTimestamp(),
	})
}

// activatePipeline stores an accepted design, keeps the raw session state
// as the seed blob future lead sessions derive from, and notifies connected
// dashboards. raw may be nil when the seed blob is already stored.
func (s *Server) activatePipeline(ctx context.Context, payload state.Pipeline, raw map[string]any) {
	s.store.UpdatePipeline(payload)
	if raw != nil {
		s.store.SetSessionState(raw)
	}
	s.hub.Broadcast(ctx, ws.PipelineUpdated(&payload))
	s.saveAsync()
	s.logger.Info("pipeline activated", "biz_name", payload.BizName, "stages", payload.TotalStages)
}

// ingestUpload ships a stored upload to the ingestion service and records
// the result on the owner session so the agent can ground on the document.
// Without a configured ingest service the file stays local and unused.
func (s *Server) ingestUpload(ctx context.Context, sessionID string, ref uploadRef) error {
	if s.ingest == nil {
		s.logger.Warn("ingest service not configured, skipping document", "file", ref.Name)
		return nil
	}

	res, err := s.ingest.Ingest(ctx, ref.Path, s.store.Business().BizName)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", ref.Name, err)
	}

	docs := []any{}
	if raw, err := s.sessions.SessionState(ctx, sessionID); err == nil {
		if existing, ok := raw["uploaded_docs"].([]any); ok {
			docs = existing
		}
	}
	docs = append(docs, res.StateEntry())

	delta := map[string]any{"uploaded_docs": docs}
	if res.Corpus != "" {
		delta["rag_corpus"] = res.Corpus
	}
	if err := s.sessions.PatchState(ctx, sessionID, delta); err != nil {
		return fmt.Errorf("recording %s on session: %w", ref.Name, err)
	}

	s.logger.Info("document ingested", "file", ref.Name, "uri", res.URI)
	return nil
}

// allowedUploadTypes are the document extensions the pipeline agent can use.
var allowedUploadTypes = map[string]bool{
	".pdf":  true,
	".docx": true,
	".csv":  true,
}

// uploadResponse is the JSON response for POST /owner/upload.
type uploadResponse struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
}

// handleOwnerUpload handles POST /owner/upload requests. The file lands in
// the uploads directory under a UUID-prefixed name; owner chat later
// references it by the returned path.
func (s *Server) handleOwnerUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedUploadTypes[ext] {
		s.sendJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("file type %q not supported (allowed: .pdf, .docx, .csv)", ext))
		return
	}

	if err := os.MkdirAll(s.config.Uploads.Dir, 0o755); err != nil {
		s.logger.Error("creating uploads dir", "dir", s.config.Uploads.Dir, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	path := filepath.Join(s.config.Uploads.Dir, uuid.NewString()+"_"+name)
	dst, err := os.Create(path)
	if err != nil {
		s.logger.Error("creating upload file", "path", path, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		s.logger.Error("writing upload file", "path", path, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("file uploaded", "filename", name, "path", path, "size", size)

	s.writeJSON(w, http.StatusOK, uploadResponse{
		Filename: name,
		Path:     path,
		Size:     size,
		Type:     ext,
	})
}
