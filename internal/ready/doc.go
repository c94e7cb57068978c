// Package ready derives the flat "ready state" a lead conversation is seeded
// with from the nested session state the pipeline builder agent produces.
//
// # Overview
//
// The pipeline builder leaves its design results in a loosely-shaped nested
// mapping: stage records live under pipeline.stage_design_results.stages,
// while business intake fields may sit at the top level, under intake_data,
// or under pipeline.intake_data depending on how the conversation went. The
// lead agent, by contrast, expects a flat mapping with stage_{i}_{field}
// keys plus a projection of whichever stage the lead currently occupies.
//
// Build performs that transformation:
//
//	res, err := ready.Build(rawState, 1)
//	seed := res.State
//
// # Flattening rules
//
//   - Four flags/sequences copy through verbatim with defaults:
//     intake_completed, uploaded_docs, rag_corpus, pipeline_completed.
//   - Business fields (business_id, biz_name, biz_info, goal, kb_files)
//     resolve through an ordered scope chain; first hit wins.
//   - Each stage record is keyed by its declared stage_number, not its
//     position. Whole-valued floats (2.0) collapse to integers (2).
//   - A record with no stage_number is skipped and noted in Result.Skipped,
//     but still counts toward total_stages. That count mismatch is
//     long-standing observed behavior and deliberately preserved.
//
// # Current-stage projection
//
// When currentStage falls inside [1, total_stages], the record at that
// 1-based position fills current_stage_name, current_stage_brief_goal,
// current_stage_prompt, current_stage_fields, current_stage_user_tags and
// current_artifacts, plus a human-readable digest of every stage. Out of
// range, the projection is empty but current_stage keeps the caller's value.
//
// # Purity
//
// Build touches no network or disk and is deterministic for a given stage
// ordering. The only error it can return is a stage entry that is not an
// object (ErrBadStageRecord); absent fields always degrade to defaults.
package ready
