// Package server exposes the HTTP and WebSocket API that connects the chat
// UI to the hosted agents, the state store, and the realtime hub.
//
// # Surface
//
// Three route families mirror the three actors:
//
//   - /owner/* is the business owner designing a pipeline: chat against the
//     pipeline agent and document upload. A design the completion
//     heuristics accept is activated immediately: the pipeline lands in the
//     store, the raw session state is kept as the seed for future lead
//     sessions, and every dashboard hears pipeline_updated.
//   - /lead/* is prospective customers: create a seeded lead session, chat
//     against the lead agent, fetch a lead's record and conversation.
//   - /admin/* is operator overrides (force activation, re-derive state,
//     full reset), bearer-gated when an admin secret is configured.
//
// /state/* exposes read-only snapshots, /ws/{client_id} upgrades to the
// realtime push channel, and / and /health answer health probes.
//
// # Lifecycle
//
// Run blocks until the context is cancelled or the listener fails, then
// performs a graceful shutdown with a fresh five-second deadline. The
// snapshot is flushed to disk as part of shutdown. The listener is plain
// TCP, or a tsnet node when Tailscale is enabled in config.
//
// # Errors
//
// Handlers classify failures before writing: unknown sessions and absent
// pipelines are 404, malformed bodies and bad uploads are 400, agent rate
// limits are 429 with a Retry-After hint, agent timeouts are 504, and
// everything else is a generic 500 whose detail goes to the log, never to
// the client.
package server
