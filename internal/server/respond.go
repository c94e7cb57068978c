// ABOUTME: JSON response helpers and the error-taxonomy-to-HTTP mapping
// ABOUTME: Upstream failure details are logged, never leaked to clients

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/leadflow/internal/session"
	"github.com/2389/leadflow/internal/vertexai"
)

// writeJSON writes v as the JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// respondError maps a domain error onto the HTTP taxonomy: unknown sessions
// are 404, rate limits are 429 with a Retry-After hint, agent timeouts are
// 504, and anything else is a generic 500 whose detail only reaches the log.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var rateErr *vertexai.RateLimitError
	switch {
	case errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, vertexai.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "session not found")
	case errors.As(err, &rateErr):
		if rateErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())))
		}
		s.sendJSONError(w, http.StatusTooManyRequests, "agent service rate limited the request")
	case errors.Is(err, session.ErrTimeout):
		s.sendJSONError(w, http.StatusGatewayTimeout, "agent response timed out")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// apiTimestamp is the timestamp string stamped on API response bodies.
func apiTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// queryContext bounds an agent query by the configured request timeout. The
// zero timeout leaves the request context as-is, which only tests use.
func (s *Server) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t := s.config.Agents.RequestTimeout; t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

// saveAsync flushes the snapshot off the request path. A failed write is
// logged and otherwise ignored; the in-memory state stays correct either way.
func (s *Server) saveAsync() {
	go func() {
		if err := s.store.Save(); err != nil {
			s.logger.Error("state save failed", "error", err)
		}
	}()
}
