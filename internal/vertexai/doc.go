// Package vertexai is a thin REST client for conversational agents deployed
// on a managed agent-hosting service.
//
// # Surface
//
// Deployed engines expose two call styles and this client uses both:
//
//   - class-method dispatch (:query and :streamQuery) for everything the
//     deployed runtime implements itself: session create/get/delete and
//     streamed message queries
//   - the sessions resource (:appendEvent) for state patches, which the
//     runtime does not expose as a class method
//
// # Streaming
//
// StreamQuery decodes the newline-delimited JSON response body into Event
// values delivered on a channel. The channel closes when the turn finishes;
// a mid-stream transport failure is delivered as a final Event whose Err
// field is set, so consumers drain the channel and check the last event.
//
// # Errors
//
// Non-2xx responses map onto three shapes: ErrNotFound for 404,
// *RateLimitError for 429 (with any Retry-After hint parsed), and *APIError
// for everything else. Context cancellation and deadlines pass through
// untouched so callers can tell a timeout from a service failure.
//
// # Auth
//
// Requests carry OAuth bearer tokens from Application Default Credentials.
// Tests inject a static token source and point BaseURL at a local server.
package vertexai
