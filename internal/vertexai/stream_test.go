// ABOUTME: Tests for streaming query decoding over newline-delimited JSON
// ABOUTME: Covers malformed lines, pre-stream errors, and cancellation

package vertexai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func TestClient_StreamQuery(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta1/projects/proj/locations/us-central1/reasoningEngines/7:streamQuery", r.URL.Path)

		body := decodeBody(t, r)
		assert.Equal(t, "stream_query", body["class_method"])
		input, _ := body["input"].(map[string]any)
		assert.Equal(t, "hello", input["message"])
		assert.Equal(t, "sess-1", input["session_id"])
		assert.Equal(t, "owner-1", input["user_id"])

		fmt.Fprintln(w, `{"author":"lead_agent","content":{"parts":[{"text":"Hi"}]}}`)
		fmt.Fprintln(w, `this line is not json`)
		fmt.Fprintln(w)
		fmt.Fprintln(w, `{"author":"lead_agent","content":{"parts":[{"text":"First"},{"text":"Second"}]}}`)
	}))

	events, err := c.StreamQuery(t.Context(), "7", "owner-1", "sess-1", "hello")
	require.NoError(t, err)

	got := collectEvents(t, events)
	require.Len(t, got, 2, "malformed and blank lines are skipped")
	assert.Equal(t, []string{"Hi"}, got[0].Texts())
	assert.Equal(t, []string{"First", "Second"}, got[1].Texts())
	assert.Equal(t, "lead_agent", got[1].Author)
	for _, ev := range got {
		assert.NoError(t, ev.Err)
	}
}

func TestClient_StreamQueryLongLine(t *testing.T) {
	long := make([]byte, 200*1024)
	for i := range long {
		long[i] = 'a'
	}

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ev := map[string]any{"author": "agent", "content": map[string]any{
			"parts": []map[string]any{{"text": string(long)}},
		}}
		json.NewEncoder(w).Encode(ev)
	}))

	events, err := c.StreamQuery(t.Context(), "7", "u", "s", "go")
	require.NoError(t, err)

	got := collectEvents(t, events)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Texts()[0], len(long))
}

func TestClient_StreamQueryErrorStatus(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Quota exceeded"}}`))
	}))

	_, err := c.StreamQuery(t.Context(), "7", "u", "s", "go")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 3*time.Second, rle.RetryAfter)
}

func TestClient_StreamQueryCancelClosesChannel(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"author":"agent","content":{"parts":[{"text":"partial"}]}}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))

	ctx, cancel := context.WithCancel(t.Context())
	events, err := c.StreamQuery(ctx, "7", "u", "s", "go")
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, []string{"partial"}, ev.Texts())
	case <-time.After(5 * time.Second):
		t.Fatal("first event never arrived")
	}

	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream channel did not close after cancel")
		}
	}
}
