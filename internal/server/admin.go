// ABOUTME: Operator endpoints for forced activation, re-derive, and reset
// ABOUTME: Bearer-gated by the auth middleware when an admin secret is set

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/2389/leadflow/internal/auth"
	"github.com/2389/leadflow/internal/session"
	"github.com/2389/leadflow/internal/state"
	"github.com/2389/leadflow/internal/ws"
)

// adminActivateResponse is the JSON response for POST /admin/pipeline/activate.
type adminActivateResponse struct {
	Status    string          `json:"status"`
	Pipeline  *state.Pipeline `json:"pipeline"`
	Timestamp string          `json:"timestamp"`
}

// handleActivatePipeline handles POST /admin/pipeline/activate requests. It
// activates whatever pipeline the stored design session contains, even when
// the completion heuristics would still say the design is unfinished.
func (s *Server) handleActivatePipeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := s.store.SessionState()
	if len(raw) == 0 {
		s.sendJSONError(w, http.StatusNotFound, "no stored session state to activate from")
		return
	}

	payload, err := session.PayloadFromState(raw, s.logger)
	if err != nil {
		s.logger.Error("extracting pipeline for forced activation", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if payload == nil {
		s.sendJSONError(w, http.StatusNotFound, "no pipeline stages in stored session state")
		return
	}

	s.logger.Info("pipeline activation forced",
		"operator", auth.OperatorFromContext(r.Context()),
		"stages", payload.TotalStages,
	)
	s.activatePipeline(r.Context(), *payload, nil)

	s.writeJSON(w, http.StatusOK, adminActivateResponse{
		Status:    "activated",
		Pipeline:  payload,
		Timestamp: apiTimestamp(),
	})
}

// rederiveRequest is the JSON request body for POST /admin/state/rederive.
// An empty body re-derives from the stored seed blob; a session id pulls a
// fresh snapshot from that live session first.
type rederiveRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// rederiveResponse is the JSON response for POST /admin/state/rederive.
type rederiveResponse struct {
	Status           string `json:"status"`
	PipelineComplete bool   `json:"pipeline_complete"`
	TotalStages      int    `json:"total_stages"`
	Timestamp        string `json:"timestamp"`
}

// handleRederiveState handles POST /admin/state/rederive requests. It
// replaces the store's pipeline and business state with whatever the design
// session currently holds, for recovering from a missed activation.
func (s *Server) handleRederiveState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req rederiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := r.Context()
	var raw map[string]any
	if req.SessionID != "" {
		fetched, err := s.sessions.SessionState(ctx, req.SessionID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.store.SetSessionState(fetched)
		raw = fetched
	} else {
		raw = s.store.SessionState()
	}
	if len(raw) == 0 {
		s.sendJSONError(w, http.StatusNotFound, "no session state to derive from")
		return
	}

	complete := session.PipelineLooksComplete(raw)
	payload, err := session.PayloadFromState(raw, s.logger)
	if err != nil {
		s.logger.Error("extracting pipeline for re-derive", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if payload == nil {
		s.sendJSONError(w, http.StatusNotFound, "no pipeline stages in session state")
		return
	}

	s.store.UpdatePipeline(*payload)
	s.hub.Broadcast(ctx, ws.PipelineUpdated(payload))
	s.saveAsync()

	s.logger.Info("state re-derived",
		"operator", auth.OperatorFromContext(ctx),
		"session_id", req.SessionID,
		"stages", payload.TotalStages,
		"pipeline_complete", complete,
	)

	s.writeJSON(w, http.StatusOK, rederiveResponse{
		Status:           "rederived",
		PipelineComplete: complete,
		TotalStages:      payload.TotalStages,
		Timestamp:        apiTimestamp(),
	})
}

// resetResponse is the JSON response for POST /admin/reset.
type resetResponse struct {
	Status          string `json:"status"`
	SessionsCleaned int    `json:"sessions_cleaned"`
	Timestamp       string `json:"timestamp"`
}

// handleReset handles POST /admin/reset requests: best-effort cleanup of
// every remote session, then a wipe of the whole store.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	cleaned := 0
	for id := range s.store.ActiveSessions() {
		if s.sessions.Cleanup(ctx, id) == session.CleanupDone {
			cleaned++
		}
	}

	s.sessions.Reset()
	s.store.Reset()
	s.hub.Broadcast(ctx, ws.StateReset())
	s.saveAsync()

	s.logger.Info("application state reset",
		"operator", auth.OperatorFromContext(ctx),
		"sessions_cleaned", cleaned,
	)

	s.writeJSON(w, http.StatusOK, resetResponse{
		Status:          "reset",
		SessionsCleaned: cleaned,
		Timestamp:       apiTimestamp(),
	})
}
