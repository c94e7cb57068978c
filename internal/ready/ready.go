// ABOUTME: Readiness transform that flattens nested pipeline-design session state
// ABOUTME: Produces the stage-indexed ready state consumed by lead sessions and the UI

package ready

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrBadStageRecord reports a designed stage entry that is not an object.
// Missing fields never error; a non-mapping record is the one malformed
// input this package refuses to interpret.
var ErrBadStageRecord = errors.New("malformed stage record")

// State is the flattened, stage-indexed form of a pipeline-design session state.
type State map[string]any

// Result carries the flattened state plus a note for every stage record that
// could not be keyed (missing stage_number). Skipped records still count
// toward total_stages, so Skipped is the only way to observe the mismatch.
type Result struct {
	State   State
	Skipped []string
}

// businessFields resolve through the layered lookup in businessScopes.
var businessFields = []string{"business_id", "biz_name", "biz_info", "goal", "kb_files"}

// businessScopes lists the locations probed, in order, for each business
// field: top level first, then the intake_data mapping, then the copy nested
// under pipeline. First hit wins.
var businessScopes = [][]string{
	{},
	{"intake_data"},
	{"pipeline", "intake_data"},
}

// Build flattens a raw pipeline-design session state into a ready State.
// currentStage is a 1-based position into the designed stage sequence;
// values outside [1, total_stages] leave the current-stage projection empty
// while current_stage itself keeps the caller's value.
//
// Build is pure: no I/O, deterministic for a given stage ordering. It never
// fails on absent fields, only on a stage record that is not an object.
func Build(raw map[string]any, currentStage int) (*Result, error) {
	st := State{}

	// Carried verbatim when present, defaulted when absent.
	st["intake_completed"] = valueOr(raw, "intake_completed", false)
	st["uploaded_docs"] = valueOr(raw, "uploaded_docs", []any{})
	st["rag_corpus"] = valueOr(raw, "rag_corpus", "")
	st["pipeline_completed"] = valueOr(raw, "pipeline_completed", false)

	for _, key := range businessFields {
		v, ok := resolveBusinessField(raw, key)
		if !ok {
			if key == "kb_files" {
				v = []any{}
			} else {
				v = ""
			}
		}
		st[key] = v
	}

	records, err := StageRecords(raw)
	if err != nil {
		return nil, err
	}

	res := &Result{State: st}

	// total_stages counts every record examined, including ones skipped
	// below for lacking a stage_number. Downstream consumers rely on the
	// count matching the designed sequence length, not the keyed subset.
	st["total_stages"] = len(records)

	for i, rec := range records {
		key, ok := stageKey(rec["stage_number"])
		if !ok {
			res.Skipped = append(res.Skipped, fmt.Sprintf("stage record %d has no stage_number", i))
			continue
		}
		for field, value := range rec {
			if field == "stage_number" {
				value = normalizeStageNumber(value)
			}
			st["stage_"+key+"_"+field] = value
		}
	}

	if len(records) > 0 && currentStage >= 1 && currentStage <= len(records) {
		cs := records[currentStage-1]
		st["current_stage"] = currentStage
		st["current_artifacts"] = joinStrings(st["kb_files"])
		st["current_stage_name"] = valueOr(cs, "stage_name", "")
		st["current_stage_brief_goal"] = valueOr(cs, "brief_stage_goal", "")
		st["current_stage_prompt"] = valueOr(cs, "prompt", "")
		st["current_stage_fields"] = valueOr(cs, "fields", []any{})
		st["current_stage_user_tags"] = valueOr(cs, "user_tags", []any{})
		st["all_stages_names_and_descriptions_and_entry_conditions"] = stageSummary(records)
	} else {
		st["current_stage"] = currentStage
		st["current_artifacts"] = ""
		st["current_stage_name"] = ""
		st["current_stage_brief_goal"] = ""
		st["current_stage_prompt"] = ""
		st["current_stage_fields"] = []any{}
		st["current_stage_user_tags"] = []any{}
		st["all_stages_names_and_descriptions_and_entry_conditions"] = ""
	}

	return res, nil
}

// StageRecords returns the designed stage list found at
// pipeline.stage_design_results.stages. An absent list is empty, not an
// error; an entry that is not an object returns ErrBadStageRecord.
func StageRecords(raw map[string]any) ([]map[string]any, error) {
	v, ok := Lookup(raw, "pipeline", "stage_design_results", "stages")
	if !ok {
		return nil, nil
	}

	switch list := v.(type) {
	case []map[string]any:
		return list, nil
	case []any:
		records := make([]map[string]any, 0, len(list))
		for i, item := range list {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: record %d is %T", ErrBadStageRecord, i, item)
			}
			records = append(records, rec)
		}
		return records, nil
	default:
		return nil, fmt.Errorf("%w: stages is %T, want sequence", ErrBadStageRecord, v)
	}
}

// Lookup walks a nested mapping along path, returning the value at the leaf.
// Any missing key or non-mapping intermediate ends the walk with ok=false.
func Lookup(raw map[string]any, path ...string) (any, bool) {
	var cur any = raw
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// resolveBusinessField probes each scope in order; first hit wins.
func resolveBusinessField(raw map[string]any, key string) (any, bool) {
	for _, scope := range businessScopes {
		path := make([]string, 0, len(scope)+1)
		path = append(path, scope...)
		path = append(path, key)
		if v, ok := Lookup(raw, path...); ok {
			return v, true
		}
	}
	return nil, false
}

// stageKey derives the flattened key suffix from a declared stage_number.
// Whole-valued floats collapse to their integer form so stage 2.0 and
// stage 2 key identically; a missing number means the record cannot be keyed.
func stageKey(n any) (string, bool) {
	switch v := n.(type) {
	case nil:
		return "", false
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return strconv.Itoa(int(v)), true
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// normalizeStageNumber rewrites a whole-valued float stage_number as an int
// so the flattened copy round-trips as an integer.
func normalizeStageNumber(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && !math.IsInf(f, 0) {
		return int(f)
	}
	return v
}

// stageSummary renders the per-stage digest handed to the lead agent:
// one block per stage, double-newline separated.
func stageSummary(records []map[string]any) string {
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		num, ok := stageKey(rec["stage_number"])
		if !ok {
			num = ""
		}
		lines = append(lines, fmt.Sprintf("%s. %s: %s\nEntry: %s",
			num,
			stringValue(rec["stage_name"]),
			stringValue(rec["brief_stage_goal"]),
			stringValue(rec["entry_condition"])))
	}
	return strings.Join(lines, "\n\n")
}

// joinStrings renders a kb_files sequence as a comma-separated artifact list.
func joinStrings(v any) string {
	switch list := v.(type) {
	case []string:
		return strings.Join(list, ", ")
	case []any:
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, stringValue(item))
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

func valueOr(m map[string]any, key string, def any) any {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}
