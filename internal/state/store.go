// ABOUTME: Process-wide application state store guarded by a RWMutex
// ABOUTME: Owns business/pipeline/lead data and keeps the derived Kanban board reconciled

package state

import (
	"log/slog"
	"sync"
	"time"
)

// Store is the single owner of mutable application state. Every access goes
// through a method; callers never touch shared fields directly. Accessors
// return copies so snapshots handed out over HTTP cannot race with mutation.
type Store struct {
	mu     sync.RWMutex
	path   string
	logger *slog.Logger
	snap   snapshot
}

// New creates an empty store that persists to path. Call Load to pick up a
// previously saved snapshot.
func New(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
		snap:   emptySnapshot(),
	}
}

// UpsertLead merges a lead into the store by session id: an existing lead has
// its mutable fields overwritten and updated_at refreshed, a new lead is
// appended. The lead's Kanban card is then reconciled into the column
// matching its current stage.
func (s *Store) UpsertLead(lead Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	lead.UpdatedAt = now

	found := false
	for i := range s.snap.Leads {
		if s.snap.Leads[i].SessionID != lead.SessionID {
			continue
		}
		created := s.snap.Leads[i].CreatedAt
		s.snap.Leads[i] = copyLead(lead)
		s.snap.Leads[i].CreatedAt = created
		lead.CreatedAt = created
		found = true
		break
	}
	if !found {
		if lead.CreatedAt.IsZero() {
			lead.CreatedAt = now
		}
		s.snap.Leads = append(s.snap.Leads, copyLead(lead))
	}

	s.reconcileCard(lead)
}

// MoveLeadToStage moves an existing lead to a new stage and reconciles its
// card. Returns false when no lead with that session id exists.
func (s *Store) MoveLeadToStage(sessionID string, stage int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.snap.Leads {
		if s.snap.Leads[i].SessionID != sessionID {
			continue
		}
		s.snap.Leads[i].Stage = stage
		s.snap.Leads[i].UpdatedAt = time.Now().UTC()
		s.reconcileCard(s.snap.Leads[i])
		return true
	}
	return false
}

// UpdatePipeline replaces the active pipeline, refreshes the business fields
// duplicated on the payload, and rebuilds the Kanban board from the new
// stage list. Existing leads are redistributed by their current stage.
func (s *Store) UpdatePipeline(p Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyPipeline(&p)
	s.snap.Pipeline = cp

	s.snap.Business.BizName = p.BizName
	s.snap.Business.BizInfo = p.BizInfo
	s.snap.Business.Goal = p.Goal
	s.snap.Business.BusinessID = p.BusinessID
	s.snap.Business.UpdatedAt = time.Now().UTC()
	if s.snap.Business.CreatedAt.IsZero() {
		s.snap.Business.CreatedAt = s.snap.Business.UpdatedAt
	}

	s.rebuildKanban()
	s.logger.Info("pipeline updated", "biz_name", p.BizName, "total_stages", p.TotalStages)
}

// SetOwnerSession records which remote session belongs to the business owner.
func (s *Store) SetOwnerSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Business.OwnerSessionID = sessionID
}

// Reset clears everything back to empty defaults.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = emptySnapshot()
	s.logger.Info("state reset")
}

// AppendOwnerMessage appends one exchange to the owner conversation log.
func (s *Store) AppendOwnerMessage(message, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.OwnerConversations = append(s.snap.OwnerConversations, ConversationEntry{
		Message:   message,
		Response:  response,
		Timestamp: time.Now().UTC(),
	})
}

// AppendLeadMessage appends one exchange to a lead's conversation log.
func (s *Store) AppendLeadMessage(sessionID, message, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LeadConversations[sessionID] = append(s.snap.LeadConversations[sessionID], ConversationEntry{
		Message:   message,
		Response:  response,
		Timestamp: time.Now().UTC(),
	})
}

// SetSessionState stores the most recent raw pipeline-design session state,
// the blob new lead sessions are seeded from.
func (s *Store) SetSessionState(raw map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]any, len(raw))
	for k, v := range raw {
		cp[k] = v
	}
	s.snap.SessionState = cp
}

// PutActiveSession records metadata for a live remote session.
func (s *Store) PutActiveSession(sessionID string, info SessionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ActiveSessions[sessionID] = info
}

// RemoveActiveSession drops a session from the registry. Idempotent.
func (s *Store) RemoveActiveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snap.ActiveSessions, sessionID)
}

// Pipeline returns a copy of the active pipeline, or nil when none is set.
func (s *Store) Pipeline() *Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPipeline(s.snap.Pipeline)
}

// Business returns the current business configuration.
func (s *Store) Business() Business {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Business
}

// Leads returns a copy of every known lead.
func (s *Store) Leads() []Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Lead, 0, len(s.snap.Leads))
	for _, l := range s.snap.Leads {
		out = append(out, copyLead(l))
	}
	return out
}

// LeadBySession returns the lead owning a session id.
func (s *Store) LeadBySession(sessionID string) (Lead, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.snap.Leads {
		if l.SessionID == sessionID {
			return copyLead(l), true
		}
	}
	return Lead{}, false
}

// Kanban returns a deep copy of the derived board.
func (s *Store) Kanban() KanbanBoard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyBoard(s.snap.Kanban)
}

// OwnerConversations returns a copy of the owner conversation log.
func (s *Store) OwnerConversations() []ConversationEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConversationEntry, len(s.snap.OwnerConversations))
	copy(out, s.snap.OwnerConversations)
	return out
}

// LeadConversation returns a copy of one lead's conversation log.
func (s *Store) LeadConversation(sessionID string) []ConversationEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.snap.LeadConversations[sessionID]
	out := make([]ConversationEntry, len(entries))
	copy(out, entries)
	return out
}

// SessionState returns the stored raw session-state blob. The top-level map
// is copied; nested values are shared and must be treated as read-only.
func (s *Store) SessionState() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]any, len(s.snap.SessionState))
	for k, v := range s.snap.SessionState {
		cp[k] = v
	}
	return cp
}

// ActiveSessions returns a copy of the live session registry.
func (s *Store) ActiveSessions() map[string]SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]SessionInfo, len(s.snap.ActiveSessions))
	for k, v := range s.snap.ActiveSessions {
		cp[k] = v
	}
	return cp
}

// reconcileCard removes the lead's card from whichever column holds it and
// reinserts it into the column matching the lead's stage. No-op until a
// pipeline exists. Callers hold the write lock.
func (s *Store) reconcileCard(lead Lead) {
	if s.snap.Pipeline == nil {
		return
	}

	for i := range s.snap.Kanban.Columns {
		col := &s.snap.Kanban.Columns[i]

		kept := col.Cards[:0]
		for _, c := range col.Cards {
			if c.ID != lead.SessionID {
				kept = append(kept, c)
			}
		}
		col.Cards = kept

		if col.StageNumber == lead.Stage {
			col.Cards = append(col.Cards, cardFor(lead))
		}
	}
	renumberCards(s.snap.Kanban.Columns)

	s.snap.Kanban.TotalLeads = len(s.snap.Leads)
	s.snap.Kanban.UpdatedAt = time.Now().UTC()
}

// rebuildKanban recreates the full board from the pipeline's stage list and
// redistributes every lead. Callers hold the write lock.
func (s *Store) rebuildKanban() {
	if s.snap.Pipeline == nil {
		return
	}

	columns := make([]KanbanColumn, 0, len(s.snap.Pipeline.Stages))
	for _, st := range s.snap.Pipeline.Stages {
		columns = append(columns, KanbanColumn{
			StageNumber:    st.StageNumber,
			StageName:      st.StageName,
			BriefStageGoal: st.BriefStageGoal,
			Cards:          []KanbanCard{},
		})
	}

	for _, lead := range s.snap.Leads {
		for i := range columns {
			if columns[i].StageNumber == lead.Stage {
				columns[i].Cards = append(columns[i].Cards, cardFor(lead))
				break
			}
		}
	}
	renumberCards(columns)

	s.snap.Kanban = KanbanBoard{
		BusinessName: s.snap.Business.BizName,
		Columns:      columns,
		TotalLeads:   len(s.snap.Leads),
		UpdatedAt:    time.Now().UTC(),
	}
}

// renumberCards keeps each card's position equal to its index within its
// column after removals and inserts shuffle the slices.
func renumberCards(columns []KanbanColumn) {
	for i := range columns {
		for j := range columns[i].Cards {
			columns[i].Cards[j].Position = j
		}
	}
}

func cardFor(lead Lead) KanbanCard {
	return KanbanCard{
		ID:        lead.SessionID,
		LeadName:  lead.DisplayName(),
		LeadType:  lead.Type,
		UserTags:  copyStrings(lead.UserTags),
		Stage:     lead.Stage,
		UpdatedAt: lead.UpdatedAt,
	}
}

func copyLead(l Lead) Lead {
	l.UserTags = copyStrings(l.UserTags)
	return l
}

func copyPipeline(p *Pipeline) *Pipeline {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Stages = make([]Stage, len(p.Stages))
	for i, st := range p.Stages {
		st.Fields = copyStrings(st.Fields)
		st.UserTags = copyStrings(st.UserTags)
		cp.Stages[i] = st
	}
	return &cp
}

func copyBoard(b KanbanBoard) KanbanBoard {
	cp := b
	cp.Columns = make([]KanbanColumn, len(b.Columns))
	for i, col := range b.Columns {
		cards := make([]KanbanCard, len(col.Cards))
		for j, c := range col.Cards {
			c.UserTags = copyStrings(c.UserTags)
			cards[j] = c
		}
		col.Cards = cards
		cp.Columns[i] = col
	}
	return cp
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
