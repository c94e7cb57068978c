// ABOUTME: Tests for activation payload assembly
// ABOUTME: Pins stage lifting, the 3..4 downgrade path, and malformed-record errors

package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/leadflow/internal/ready"
)

func designState(n int) map[string]any {
	stages := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		stages = append(stages, map[string]any{
			"stage_number":     float64(i),
			"stage_name":       fmt.Sprintf("Stage %d", i),
			"entry_condition":  fmt.Sprintf("enter %d", i),
			"prompt":           fmt.Sprintf("prompt %d", i),
			"brief_stage_goal": fmt.Sprintf("goal %d", i),
			"fields":           []any{"name", "email"},
			"user_tags":        []any{"tag"},
		})
	}
	return map[string]any{
		"pipeline_completed": true,
		"intake_data": map[string]any{
			"biz_name":    "Acme Plumbing",
			"biz_info":    "Residential plumbing",
			"goal":        "Book service calls",
			"business_id": "acme-1",
		},
		"pipeline": map[string]any{
			"stage_design_results": map[string]any{"stages": stages},
		},
	}
}

func TestPayloadFromState_ThreeStages(t *testing.T) {
	p, err := PayloadFromState(designState(3), testLogger())
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, "Acme Plumbing", p.BizName)
	assert.Equal(t, "acme-1", p.BusinessID)
	assert.Equal(t, 3, p.TotalStages)
	assert.True(t, p.PipelineCompleted)
	assert.False(t, p.CreatedAt.IsZero())

	require.Len(t, p.Stages, 3)
	assert.Equal(t, "Stage 2", p.Stages[1].StageName)
	assert.Equal(t, 2, p.Stages[1].StageNumber)
	assert.Equal(t, "goal 2", p.Stages[1].BriefStageGoal)
	assert.Equal(t, []string{"name", "email"}, p.Stages[1].Fields)
	assert.Equal(t, []string{"tag"}, p.Stages[1].UserTags)
}

func TestPayloadFromState_NoStages(t *testing.T) {
	p, err := PayloadFromState(map[string]any{}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPayloadFromState_OutOfRangeCountKept(t *testing.T) {
	p, err := PayloadFromState(designState(2), testLogger())
	require.NoError(t, err)
	require.NotNil(t, p, "downgrade, not rejection")
	assert.Equal(t, 2, p.TotalStages)

	p, err = PayloadFromState(designState(5), testLogger())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Len(t, p.Stages, 5)
}

func TestPayloadFromState_SkippedRecordLeavesHole(t *testing.T) {
	raw := designState(3)
	pipeline := raw["pipeline"].(map[string]any)
	stages := pipeline["stage_design_results"].(map[string]any)["stages"].([]any)
	rec := stages[1].(map[string]any)
	delete(rec, "stage_number")

	p, err := PayloadFromState(raw, testLogger())
	require.NoError(t, err)
	require.NotNil(t, p)

	// the skipped record still counts, its slot comes back empty
	assert.Equal(t, 3, p.TotalStages)
	require.Len(t, p.Stages, 3)
	assert.Empty(t, p.Stages[1].StageName)
	assert.Equal(t, 2, p.Stages[1].StageNumber, "missing slot falls back to its index")
	assert.Equal(t, "Stage 3", p.Stages[2].StageName)
}

func TestPayloadFromState_MalformedRecord(t *testing.T) {
	raw := map[string]any{
		"pipeline": map[string]any{
			"stage_design_results": map[string]any{"stages": []any{"not a record"}},
		},
	}
	_, err := PayloadFromState(raw, testLogger())
	assert.ErrorIs(t, err, ready.ErrBadStageRecord)
}

func TestManager_ExtractPipelinePayload(t *testing.T) {
	m, fake := testManager(t)

	sess, err := m.GetOrCreateOwnerSession(t.Context(), "")
	require.NoError(t, err)

	fake.mu.Lock()
	fake.states[sess.ID] = designState(3)
	fake.mu.Unlock()

	p, err := m.ExtractPipelinePayload(t.Context(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 3, p.TotalStages)
}

func TestManager_IsPipelineComplete(t *testing.T) {
	m, fake := testManager(t)

	sess, err := m.GetOrCreateOwnerSession(t.Context(), "")
	require.NoError(t, err)

	done, err := m.IsPipelineComplete(t.Context(), sess.ID)
	require.NoError(t, err)
	assert.False(t, done)

	fake.mu.Lock()
	fake.states[sess.ID] = map[string]any{"pipeline": map[string]any{"pipeline_completed": true}}
	fake.mu.Unlock()

	done, err = m.IsPipelineComplete(t.Context(), sess.ID)
	require.NoError(t, err)
	assert.True(t, done)
}
