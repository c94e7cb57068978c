// Package state holds the whole application state in memory and mirrors it
// to a single JSON document on disk.
//
// # Model
//
// The store tracks one business, one pipeline, the leads working through
// that pipeline, conversation logs for the owner and each lead, active
// session metadata, and a Kanban board derived from the pipeline and leads.
// There is exactly one of everything because the product serves one business
// at a time; multi-tenancy would be a different store.
//
// # Concurrency
//
// A single RWMutex guards the snapshot. All read accessors return deep
// copies, so callers can never alias live state. Mutators take the write
// lock, apply the change, and reconcile the Kanban board inside the same
// critical section so no reader observes a lead and its card disagreeing
// about the stage.
//
// # Persistence
//
// Save marshals the snapshot to an indented JSON file; Load replaces the
// in-memory snapshot from that file if it exists. A missing or corrupt file
// is never fatal: the store logs and starts fresh. RunAutoSave flushes on a
// ticker until its context is cancelled.
//
// # Kanban derivation
//
// The board is a pure function of the pipeline and the lead set. Every lead
// appears on exactly one column (the one matching its stage number), or on
// none if no column matches. UpdatePipeline rebuilds the board from scratch;
// lead mutations reconcile the one affected card in place.
package state
