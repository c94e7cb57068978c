// Package session manages conversations against the two hosted agents: the
// pipeline designer the business owner talks to, and the lead agent every
// prospective customer talks to.
//
// # Registry
//
// The manager tracks every remote session this process created, keyed by the
// remote session id. Asking for an unknown or empty id creates a fresh
// remote session rather than failing; the caller adopts the returned id.
// Restore rebuilds handles from persisted metadata after a restart.
//
// # Queries
//
// Query drains a whole streamed response and newline-joins its textual
// parts; callers get one combined string, never partial output. A response
// without any text yields the fixed placeholder "Response received".
// StreamQuery exposes the raw event channel for callers that forward events
// as they arrive.
//
// # Pipeline introspection
//
// IsPipelineComplete and ExtractPipelinePayload read the design session's
// remote state. Completion is judged by three OR-combined heuristics
// (PipelineLooksComplete); the payload is assembled by running the readiness
// transform and lifting the flattened stage keys into a Pipeline. Both pure
// cores are exported so tests can drive them without a remote.
//
// # Cleanup
//
// Cleanup is best-effort: the result reports done, already gone, or failed,
// and failures never propagate. Teardown paths must not break because a
// remote session refused to die.
package session
