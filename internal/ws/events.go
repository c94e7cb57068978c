// ABOUTME: Typed realtime events and the wire envelope they ride in
// ABOUTME: Every frame is {type, data, timestamp} JSON

package ws

import (
	"fmt"
	"time"

	"github.com/2389/leadflow/internal/state"
)

// Event types pushed to UI clients.
const (
	TypeConnectionEstablished = "connection_established"
	TypePipelineUpdated       = "pipeline_updated"
	TypeLeadUpdated           = "lead_updated"
	TypeStateReset            = "state_reset"
	TypeEcho                  = "echo"
)

// Envelope is the frame every event rides in.
type Envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func newEnvelope(typ string, data any) Envelope {
	return Envelope{Type: typ, Data: data, Timestamp: time.Now().UTC()}
}

// ConnectionEstablished greets a freshly registered client.
func ConnectionEstablished(clientID string) Envelope {
	return newEnvelope(TypeConnectionEstablished, map[string]any{
		"client_id": clientID,
		"message":   "WebSocket connection established",
	})
}

// PipelineUpdated announces a newly activated pipeline.
func PipelineUpdated(p *state.Pipeline) Envelope {
	return newEnvelope(TypePipelineUpdated, map[string]any{
		"pipeline": p,
		"message":  fmt.Sprintf("Pipeline updated: %s (%d stages)", p.BizName, p.TotalStages),
	})
}

// LeadUpdated announces new or changed lead data.
func LeadUpdated(l state.Lead) Envelope {
	return newEnvelope(TypeLeadUpdated, map[string]any{
		"lead":    l,
		"message": fmt.Sprintf("Lead updated: %s (Stage %d)", l.DisplayName(), l.Stage),
	})
}

// StateReset announces that the whole application state was wiped.
func StateReset() Envelope {
	return newEnvelope(TypeStateReset, map[string]any{
		"message": "Application state has been reset",
	})
}

// Echo reflects an inbound client frame back at it.
func Echo(text string) Envelope {
	return newEnvelope(TypeEcho, map[string]any{
		"message": "Echo: " + text,
	})
}
