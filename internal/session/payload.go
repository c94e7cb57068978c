// ABOUTME: Activation payload assembly from a finished pipeline-design conversation
// ABOUTME: Runs the readiness transform and lifts the flattened keys into a Pipeline

package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/leadflow/internal/ready"
	"github.com/2389/leadflow/internal/state"
)

// ExtractPipelinePayload fetches a session's remote state and assembles the
// activation payload. A state with no stages yields (nil, nil); a stage
// count outside the product's 3..4 window is logged as a downgrade and the
// payload is returned anyway.
func (m *Manager) ExtractPipelinePayload(ctx context.Context, sessionID string) (*state.Pipeline, error) {
	st, err := m.SessionState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return PayloadFromState(st, m.logger)
}

// PayloadFromState derives the activation payload from raw session state.
// The readiness transform runs with currentStage=1 because every new lead
// enters at the first stage.
func PayloadFromState(raw map[string]any, logger *slog.Logger) (*state.Pipeline, error) {
	res, err := ready.Build(raw, 1)
	if err != nil {
		return nil, fmt.Errorf("deriving ready state: %w", err)
	}
	for _, diag := range res.Skipped {
		logger.Warn("stage record skipped during payload extraction", "detail", diag)
	}

	rs := res.State
	total := intValue(rs["total_stages"], 0)
	if total == 0 {
		return nil, nil
	}
	if total < 3 || total > 4 {
		logger.Warn("stage count outside expected range, keeping payload",
			"total_stages", total, "expected", "3..4")
	}

	stages := make([]state.Stage, 0, total)
	for i := 1; i <= total; i++ {
		prefix := fmt.Sprintf("stage_%d_", i)
		stages = append(stages, state.Stage{
			StageName:      stringValue(rs[prefix+"stage_name"]),
			StageNumber:    intValue(rs[prefix+"stage_number"], i),
			EntryCondition: stringValue(rs[prefix+"entry_condition"]),
			Prompt:         stringValue(rs[prefix+"prompt"]),
			BriefStageGoal: stringValue(rs[prefix+"brief_stage_goal"]),
			Fields:         stringsValue(rs[prefix+"fields"]),
			UserTags:       stringsValue(rs[prefix+"user_tags"]),
		})
	}

	return &state.Pipeline{
		BizName:           stringValue(rs["biz_name"]),
		BizInfo:           stringValue(rs["biz_info"]),
		Goal:              stringValue(rs["goal"]),
		BusinessID:        stringValue(rs["business_id"]),
		TotalStages:       total,
		Stages:            stages,
		PipelineCompleted: truthy(rs["pipeline_completed"]),
		CreatedAt:         time.Now().UTC(),
	}, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func stringsValue(v any) []string {
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
