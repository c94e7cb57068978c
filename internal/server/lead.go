// ABOUTME: Lead-facing handlers for conversations riding the active pipeline
// ABOUTME: Lead field changes reconcile the store and push Kanban updates

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/leadflow/internal/ready"
	"github.com/2389/leadflow/internal/state"
	"github.com/2389/leadflow/internal/ws"
)

// leadCreateRequest is the JSON request body for POST /lead/create. An
// empty body is accepted; the lead id is generated when absent.
type leadCreateRequest struct {
	LeadID string `json:"lead_id,omitempty"`
}

// leadCreateResponse is the JSON response for POST /lead/create.
type leadCreateResponse struct {
	SessionID string     `json:"session_id"`
	Lead      state.Lead `json:"lead"`
	Timestamp string     `json:"timestamp"`
}

// handleLeadCreate handles POST /lead/create requests. It derives the ready
// state from the stored design session, creates a remote lead session seeded
// with it, and registers the lead at stage 1.
func (s *Server) handleLeadCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req leadCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if s.store.Pipeline() == nil {
		s.sendJSONError(w, http.StatusNotFound, "no active pipeline; complete the pipeline design first")
		return
	}

	res, err := ready.Build(s.store.SessionState(), 1)
	if err != nil {
		s.logger.Error("building ready state", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(res.Skipped) > 0 {
		s.logger.Warn("stage records skipped while seeding lead session", "skipped", res.Skipped)
	}

	leadID := req.LeadID
	if leadID == "" {
		leadID = uuid.NewString()
	}

	ctx := r.Context()
	sess, err := s.sessions.CreateLeadSession(ctx, leadID, res.State)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.store.PutActiveSession(sess.ID, state.SessionInfo{
		UserID:    sess.UserID,
		Agent:     sess.Agent,
		CreatedAt: time.Now().UTC(),
	})

	s.store.UpsertLead(state.Lead{
		SessionID: sess.ID,
		Stage:     1,
	})
	lead, _ := s.store.LeadBySession(sess.ID)
	s.hub.Broadcast(ctx, ws.LeadUpdated(lead))
	s.saveAsync()

	s.logger.Info("lead session created", "lead_id", leadID, "session_id", sess.ID)

	s.writeJSON(w, http.StatusOK, leadCreateResponse{
		SessionID: sess.ID,
		Lead:      lead,
		Timestamp: apiTimestamp(),
	})
}

// leadChatRequest is the JSON request body for POST /lead/chat.
type leadChatRequest struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// leadChatResponse is the JSON response for POST /lead/chat.
type leadChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// handleLeadChat handles POST /lead/chat requests. When the agent's reply
// suggests it changed the lead's record, the remote state is refetched and
// the stored lead reconciled before the reply goes back.
func (s *Server) handleLeadChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req leadChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.SessionID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	ctx := r.Context()
	queryCtx, cancel := s.queryContext(ctx)
	defer cancel()
	response, err := s.sessions.Query(queryCtx, req.SessionID, req.Content)
	if err != nil {
		s.respondError(w, err)
		return
	}

	if leadStateChanged(response) {
		s.refreshLead(ctx, req.SessionID)
	}

	s.store.AppendLeadMessage(req.SessionID, req.Content, response)

	s.writeJSON(w, http.StatusOK, leadChatResponse{
		Response:  response,
		SessionID: req.SessionID,
		Timestamp: apiTimestamp(),
	})
}

// leadStateChanged is a placeholder heuristic: the lead agent announces
// record changes and stage moves in prose, so scan the reply for the
// phrases it uses.
func leadStateChanged(response string) bool {
	lower := strings.ToLower(response)
	return strings.Contains(lower, "updated") || strings.Contains(lower, "moved to stage")
}

// refreshLead refetches the remote session state and reconciles the stored
// lead with whatever the agent recorded. Failures leave the stored lead
// untouched; the next heuristic hit retries.
func (s *Server) refreshLead(ctx context.Context, sessionID string) {
	raw, err := s.sessions.SessionState(ctx, sessionID)
	if err != nil {
		s.logger.Warn("refreshing lead state failed", "session_id", sessionID, "error", err)
		return
	}

	s.store.UpsertLead(state.LeadFromSession(sessionID, raw))
	lead, ok := s.store.LeadBySession(sessionID)
	if !ok {
		return
	}
	s.hub.Broadcast(ctx, ws.LeadUpdated(lead))
	s.saveAsync()
	s.logger.Info("lead state refreshed", "session_id", sessionID, "stage", lead.Stage)
}

// leadDataResponse is the JSON response for GET /lead/data/{session_id}.
type leadDataResponse struct {
	Lead         state.Lead                `json:"lead"`
	Conversation []state.ConversationEntry `json:"conversation"`
	Timestamp    string                    `json:"timestamp"`
}

// handleLeadData handles GET /lead/data/{session_id} requests.
func (s *Server) handleLeadData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/lead/data/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		s.sendJSONError(w, http.StatusNotFound, "lead not found")
		return
	}

	lead, ok := s.store.LeadBySession(sessionID)
	if !ok {
		s.sendJSONError(w, http.StatusNotFound, "lead not found")
		return
	}

	s.writeJSON(w, http.StatusOK, leadDataResponse{
		Lead:         lead,
		Conversation: s.store.LeadConversation(sessionID),
		Timestamp:    apiTimestamp(),
	})
}
