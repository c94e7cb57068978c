// ABOUTME: JSON file persistence for the state store
// ABOUTME: Load-on-start, explicit save, and a timer-driven auto-save loop

package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Load reads the snapshot file if one exists. An absent or unreadable file
// and a corrupt document are all non-fatal: the store logs the condition and
// keeps its empty in-memory state.
func (s *Store) Load() {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Info("no existing state file, starting fresh", "path", s.path)
		return
	}
	if err != nil {
		s.logger.Warn("state file unreadable, starting fresh", "path", s.path, "error", err)
		return
	}

	loaded := emptySnapshot()
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Warn("state file corrupt, starting fresh", "path", s.path, "error", err)
		return
	}
	normalizeSnapshot(&loaded)

	s.mu.Lock()
	s.snap = loaded
	s.mu.Unlock()

	s.logger.Info("state loaded",
		"path", s.path,
		"business", loaded.Business.BizName,
		"leads", len(loaded.Leads),
		"active_sessions", len(loaded.ActiveSessions),
	)
}

// Save serializes the snapshot to the state file. The marshal runs under the
// write lock (last_updated is refreshed as part of the save) and the disk
// write happens after release. A failed write leaves memory authoritative.
func (s *Store) Save() error {
	s.mu.Lock()
	s.snap.LastUpdated = time.Now().UTC()
	data, err := json.MarshalIndent(s.snap, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// RunAutoSave saves the snapshot every interval until the context is
// canceled. Save failures are logged and the loop keeps going.
func (s *Store) RunAutoSave(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("auto-save started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto-save stopped")
			return
		case <-ticker.C:
			if err := s.Save(); err != nil {
				s.logger.Error("auto-save failed", "error", err)
			}
		}
	}
}

// normalizeSnapshot restores containers a hand-edited or older snapshot may
// have serialized as null.
func normalizeSnapshot(snap *snapshot) {
	if snap.Leads == nil {
		snap.Leads = []Lead{}
	}
	if snap.OwnerConversations == nil {
		snap.OwnerConversations = []ConversationEntry{}
	}
	if snap.LeadConversations == nil {
		snap.LeadConversations = map[string][]ConversationEntry{}
	}
	if snap.ActiveSessions == nil {
		snap.ActiveSessions = map[string]SessionInfo{}
	}
	if snap.SessionState == nil {
		snap.SessionState = map[string]any{}
	}
}
