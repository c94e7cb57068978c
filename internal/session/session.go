// ABOUTME: Session manager for the two hosted agents (pipeline designer and lead agent)
// ABOUTME: Tracks remote sessions, relays queries, and owns cleanup semantics

package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/leadflow/internal/state"
	"github.com/2389/leadflow/internal/vertexai"
)

// Agent kinds, recorded on session metadata and used to route a session id
// back to the engine that owns it.
const (
	AgentPipeline = "pipeline"
	AgentLead     = "lead"
)

// ErrSessionNotFound reports a session id this process never created or
// restored.
var ErrSessionNotFound = errors.New("session not found")

// ErrTimeout reports that the hosted agent did not finish a response within
// the caller's deadline.
var ErrTimeout = errors.New("agent response timed out")

// API is the slice of the hosted-agent client the manager depends on.
type API interface {
	Engine(ctx context.Context, engineID string) (*vertexai.EngineInfo, error)
	CreateSession(ctx context.Context, engineID, userID string, initialState map[string]any) (*vertexai.Session, error)
	GetSession(ctx context.Context, engineID, userID, sessionID string) (*vertexai.Session, error)
	DeleteSession(ctx context.Context, engineID, userID, sessionID string) error
	AppendStateDelta(ctx context.Context, engineID, sessionID string, delta map[string]any) error
	StreamQuery(ctx context.Context, engineID, userID, sessionID, message string) (<-chan vertexai.Event, error)
}

var _ API = (*vertexai.Client)(nil)

// Session is the manager's handle for one remote conversation.
type Session struct {
	ID     string
	UserID string
	Engine string
	Agent  string
}

// Manager tracks every remote session this process created, keyed by the
// remote session id. Engine handles are verified lazily on first use.
type Manager struct {
	api            API
	pipelineEngine string
	leadEngine     string
	logger         *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	verified map[string]bool
}

// NewManager wires a manager to the hosted-agent API and the two engine ids.
func NewManager(api API, pipelineEngine, leadEngine string, logger *slog.Logger) *Manager {
	return &Manager{
		api:            api,
		pipelineEngine: pipelineEngine,
		leadEngine:     leadEngine,
		logger:         logger,
		sessions:       map[string]*Session{},
		verified:       map[string]bool{},
	}
}

// GetOrCreateOwnerSession returns the tracked pipeline-design session for id,
// or creates a fresh remote session when id is empty or unknown. The returned
// handle carries the remote session id, which may differ from the requested
// one.
func (m *Manager) GetOrCreateOwnerSession(ctx context.Context, id string) (*Session, error) {
	if id != "" {
		if sess, ok := m.lookup(id); ok {
			return sess, nil
		}
	}

	if err := m.verifyEngine(ctx, m.pipelineEngine); err != nil {
		return nil, err
	}

	userID := "owner_" + randomHex(8)
	remote, err := m.api.CreateSession(ctx, m.pipelineEngine, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline session: %w", err)
	}

	sess := &Session{ID: remote.ID, UserID: userID, Engine: m.pipelineEngine, Agent: AgentPipeline}
	m.track(sess)
	m.logger.Info("pipeline session created", "session", sess.ID, "user", userID)
	return sess, nil
}

// CreateLeadSession returns the tracked lead session for leadID, or creates
// a fresh remote session seeded with the ready-state blob. Callers pass the
// seed already derived; the manager does not reach into application state.
func (m *Manager) CreateLeadSession(ctx context.Context, leadID string, seed map[string]any) (*Session, error) {
	if leadID != "" {
		if sess, ok := m.lookup(leadID); ok {
			return sess, nil
		}
	}

	if err := m.verifyEngine(ctx, m.leadEngine); err != nil {
		return nil, err
	}

	userID := "lead_" + randomHex(8)
	remote, err := m.api.CreateSession(ctx, m.leadEngine, userID, seed)
	if err != nil {
		return nil, fmt.Errorf("creating lead session: %w", err)
	}

	sess := &Session{ID: remote.ID, UserID: userID, Engine: m.leadEngine, Agent: AgentLead}
	m.track(sess)
	m.logger.Info("lead session created", "session", sess.ID, "user", userID)
	return sess, nil
}

// StreamQuery relays message into a tracked session and hands back the raw
// event stream.
func (m *Manager) StreamQuery(ctx context.Context, sessionID, message string) (<-chan vertexai.Event, error) {
	sess, ok := m.lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return m.api.StreamQuery(ctx, sess.Engine, sess.UserID, sess.ID, message)
}

// Query relays message into a tracked session, drains the whole response
// stream, and newline-joins every textual part. A response with no textual
// parts yields the fixed placeholder "Response received".
func (m *Manager) Query(ctx context.Context, sessionID, message string) (string, error) {
	events, err := m.StreamQuery(ctx, sessionID, message)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", err
	}

	var texts []string
	for ev := range events {
		if ev.Err != nil {
			if errors.Is(ev.Err, context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: %v", ErrTimeout, ev.Err)
			}
			return "", ev.Err
		}
		texts = append(texts, ev.Texts()...)
	}

	if len(texts) == 0 {
		return "Response received", nil
	}
	return strings.Join(texts, "\n"), nil
}

// SessionState fetches the current remote state of a tracked session.
func (m *Manager) SessionState(ctx context.Context, sessionID string) (map[string]any, error) {
	sess, ok := m.lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	remote, err := m.api.GetSession(ctx, sess.Engine, sess.UserID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching session state: %w", err)
	}
	return remote.State, nil
}

// PatchState appends a state delta to a tracked session, used for upload
// bookkeeping between turns.
func (m *Manager) PatchState(ctx context.Context, sessionID string, delta map[string]any) error {
	sess, ok := m.lookup(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return m.api.AppendStateDelta(ctx, sess.Engine, sess.ID, delta)
}

// CleanupResult classifies the outcome of a best-effort session delete.
type CleanupResult int

const (
	CleanupDone CleanupResult = iota
	CleanupAlreadyGone
	CleanupFailed
)

func (r CleanupResult) String() string {
	switch r {
	case CleanupDone:
		return "done"
	case CleanupAlreadyGone:
		return "already_gone"
	case CleanupFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Cleanup deletes a remote session, best-effort. Failures are logged and
// reported in the result, never propagated: an undeletable session must not
// break the caller's teardown path. The handle is forgotten unless the
// delete failed, so a failed cleanup can be retried.
func (m *Manager) Cleanup(ctx context.Context, sessionID string) CleanupResult {
	sess, ok := m.lookup(sessionID)
	if !ok {
		return CleanupAlreadyGone
	}

	err := m.api.DeleteSession(ctx, sess.Engine, sess.UserID, sess.ID)
	switch {
	case err == nil:
		m.forget(sessionID)
		m.logger.Info("session cleaned up", "session", sessionID)
		return CleanupDone
	case errors.Is(err, vertexai.ErrNotFound):
		m.forget(sessionID)
		m.logger.Info("session already gone", "session", sessionID)
		return CleanupAlreadyGone
	default:
		m.logger.Warn("session cleanup failed", "session", sessionID, "error", err)
		return CleanupFailed
	}
}

// Reset forgets every tracked session. Remote sessions are left to expire on
// their own; this mirrors a full application reset where fresh sessions are
// about to be created anyway.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = map[string]*Session{}
	m.logger.Info("session registry reset")
}

// Restore rebuilds session handles from persisted metadata so a restarted
// process can keep serving sessions it created in a previous life.
func (m *Manager) Restore(infos map[string]state.SessionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, info := range infos {
		engine := m.pipelineEngine
		if info.Agent == AgentLead {
			engine = m.leadEngine
		}
		m.sessions[id] = &Session{ID: id, UserID: info.UserID, Engine: engine, Agent: info.Agent}
	}
	if len(infos) > 0 {
		m.logger.Info("sessions restored", "count", len(infos))
	}
}

// Tracked reports whether the manager knows a session id.
func (m *Manager) Tracked(sessionID string) bool {
	_, ok := m.lookup(sessionID)
	return ok
}

// verifyEngine fetches the engine resource once per engine id to fail fast
// on a bad deployment before sessions pile up against it.
func (m *Manager) verifyEngine(ctx context.Context, engineID string) error {
	m.mu.Lock()
	done := m.verified[engineID]
	m.mu.Unlock()
	if done {
		return nil
	}

	info, err := m.api.Engine(ctx, engineID)
	if err != nil {
		return fmt.Errorf("verifying engine %s: %w", engineID, err)
	}

	m.mu.Lock()
	m.verified[engineID] = true
	m.mu.Unlock()
	m.logger.Info("engine verified", "engine", engineID, "display_name", info.DisplayName)
	return nil
}

func (m *Manager) lookup(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

func (m *Manager) track(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
}

func (m *Manager) forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func randomHex(n int) string {
	u := uuid.New()
	s := hex.EncodeToString(u[:])
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}
