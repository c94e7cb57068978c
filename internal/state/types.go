// ABOUTME: Domain types for business, pipeline, lead, and Kanban state
// ABOUTME: Field names mirror the persisted JSON document layout

package state

import "time"

// Stage is one designed pipeline step a lead progresses through.
type Stage struct {
	StageName      string   `json:"stage_name"`
	StageNumber    int      `json:"stage_number"`
	EntryCondition string   `json:"entry_condition"`
	Prompt         string   `json:"prompt"`
	BriefStageGoal string   `json:"brief_stage_goal"`
	Fields         []string `json:"fields"`
	UserTags       []string `json:"user_tags"`
}

// Pipeline is the activated output of a pipeline-design conversation.
// Business fields are duplicated here from the intake data so the payload
// stands alone on the wire.
type Pipeline struct {
	BizName           string    `json:"biz_name"`
	BizInfo           string    `json:"biz_info"`
	Goal              string    `json:"goal"`
	BusinessID        string    `json:"business_id"`
	TotalStages       int       `json:"total_stages"`
	Stages            []Stage   `json:"stages"`
	PipelineCompleted bool      `json:"pipeline_completed"`
	CreatedAt         time.Time `json:"created_at"`
}

// Business is the standing business configuration, refreshed whenever a new
// pipeline is activated.
type Business struct {
	BizName        string    `json:"biz_name"`
	BizInfo        string    `json:"biz_info"`
	Goal           string    `json:"goal"`
	BusinessID     string    `json:"business_id"`
	OwnerSessionID string    `json:"owner_session_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Lead is a prospective customer tracked through pipeline stages, keyed by
// its conversation session id.
type Lead struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Company      string    `json:"company"`
	Website      string    `json:"website"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email"`
	Address      string    `json:"address"`
	Requirements string    `json:"requirements"`
	Notes        string    `json:"notes"`
	Stage        int       `json:"stage"`
	UserTags     []string  `json:"user_tags"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DisplayName is the board-facing name, falling back to a session-id stub
// for leads that have not shared a name yet.
func (l Lead) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	id := l.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Lead " + id
}

// KanbanCard is one lead placed on the board.
type KanbanCard struct {
	ID        string    `json:"id"`
	LeadName  string    `json:"lead_name"`
	LeadType  string    `json:"lead_type"`
	UserTags  []string  `json:"user_tags"`
	Stage     int       `json:"stage"`
	Position  int       `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KanbanColumn groups cards for one pipeline stage.
type KanbanColumn struct {
	StageNumber    int          `json:"stage_number"`
	StageName      string       `json:"stage_name"`
	BriefStageGoal string       `json:"brief_stage_goal"`
	Cards          []KanbanCard `json:"cards"`
}

// KanbanBoard is the derived view grouping leads into columns by stage.
type KanbanBoard struct {
	BusinessName string         `json:"business_name"`
	Columns      []KanbanColumn `json:"columns"`
	TotalLeads   int            `json:"total_leads"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ConversationEntry is one request/response exchange in a conversation log.
type ConversationEntry struct {
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionInfo is the metadata kept for a live remote session so a restarted
// process knows which sessions it previously created.
type SessionInfo struct {
	UserID    string    `json:"user_id"`
	Agent     string    `json:"agent"`
	CreatedAt time.Time `json:"created_at"`
}

// snapshot is the single JSON document persisted to disk. There is no schema
// versioning; unknown fields are dropped on load.
type snapshot struct {
	Business           Business                       `json:"business_data"`
	Pipeline           *Pipeline                      `json:"pipeline_payload"`
	Leads              []Lead                         `json:"leads"`
	OwnerConversations []ConversationEntry            `json:"owner_conversations"`
	LeadConversations  map[string][]ConversationEntry `json:"lead_conversations"`
	ActiveSessions     map[string]SessionInfo         `json:"active_sessions"`
	Kanban             KanbanBoard                    `json:"kanban_board"`
	SessionState       map[string]any                 `json:"session_state"`
	LastUpdated        time.Time                      `json:"last_updated"`
}

// emptySnapshot returns a snapshot with allocated containers so callers never
// see nil maps.
func emptySnapshot() snapshot {
	return snapshot{
		Leads:              []Lead{},
		OwnerConversations: []ConversationEntry{},
		LeadConversations:  map[string][]ConversationEntry{},
		ActiveSessions:     map[string]SessionInfo{},
		SessionState:       map[string]any{},
	}
}
