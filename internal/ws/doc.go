// Package ws pushes realtime updates to connected dashboard clients over
// WebSocket.
//
// # Registry
//
// The hub maps client ids to live connections. Connecting under an id that
// is already taken replaces (and closes) the older connection. Disconnect
// is idempotent so every teardown path can call it.
//
// # Fan-out
//
// Broadcast serializes an envelope once and writes it to every connection,
// minus any excluded ids. A send that fails (a write error, or a client too
// slow to drain one frame within the write timeout) evicts that client in
// the same pass. There is no retry and no queueing beyond the socket
// buffers: the dashboard re-syncs over HTTP when it reconnects.
//
// # Wire format
//
// Every frame is an Envelope, {type, data, timestamp} as JSON. The typed
// constructors in events.go are the complete vocabulary: pipeline_updated,
// lead_updated, state_reset, connection_established, and echo. Inbound text
// frames are echoed back ("Echo: <text>"), which the UI uses as a liveness
// probe.
package ws
