// ABOUTME: Pipeline-completion heuristics over raw session state
// ABOUTME: Three OR-combined signals; any one marks the design conversation done

package session

import (
	"context"
	"fmt"

	"github.com/2389/leadflow/internal/ready"
)

// IsPipelineComplete fetches a session's remote state and reports whether the
// pipeline design looks finished.
func (m *Manager) IsPipelineComplete(ctx context.Context, sessionID string) (bool, error) {
	st, err := m.SessionState(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return PipelineLooksComplete(st), nil
}

// PipelineLooksComplete applies three independent signals over raw session
// state, OR-combined. The designer agent's output shape drifts between
// deployments, so no single signal is trusted:
//
//  1. the agent set pipeline.pipeline_completed to a truthy value
//  2. at least three stage records exist and the first carries a non-empty
//     brief_stage_goal
//  3. at least three flattened stage_{i}_stage_name keys sit at top level
//     (i scanned over 1..9)
func PipelineLooksComplete(st map[string]any) bool {
	if v, ok := ready.Lookup(st, "pipeline", "pipeline_completed"); ok && truthy(v) {
		return true
	}

	if records, err := ready.StageRecords(st); err == nil && len(records) >= 3 {
		if goal, ok := records[0]["brief_stage_goal"].(string); ok && goal != "" {
			return true
		}
	}

	found := 0
	for i := 1; i <= 9; i++ {
		if _, ok := st[fmt.Sprintf("stage_%d_stage_name", i)]; ok {
			found++
		}
	}
	return found >= 3
}

// truthy mirrors loose truthiness for values deserialized from JSON.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
