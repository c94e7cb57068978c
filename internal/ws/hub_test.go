// ABOUTME: Tests for hub fan-out, eviction on failed sends, and the echo loop
// ABOUTME: Fake connections drive eviction policy; a live dial covers the handler

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/leadflow/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	writeErr  error
	closed    bool
	closeCode websocket.StatusCode
}

func (f *fakeConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	return nil
}

func (f *fakeConn) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

func dataMap(t *testing.T, env Envelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	require.True(t, ok, "envelope data is %T, want map", env.Data)
	return m
}

func TestHub_ConnectPushesEstablished(t *testing.T) {
	hub := NewHub(testLogger())
	conn := &fakeConn{}

	hub.Connect(t.Context(), "ui-1", conn)

	envs := conn.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, TypeConnectionEstablished, envs[0].Type)
	assert.Equal(t, "ui-1", dataMap(t, envs[0])["client_id"])
	assert.False(t, envs[0].Timestamp.IsZero())
	assert.Equal(t, 1, hub.Count())
}

func TestHub_BroadcastFanOutWithExclude(t *testing.T) {
	hub := NewHub(testLogger())
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	hub.Connect(t.Context(), "a", a)
	hub.Connect(t.Context(), "b", b)
	hub.Connect(t.Context(), "c", c)

	hub.Broadcast(t.Context(), StateReset(), "b")

	assert.Len(t, a.envelopes(t), 2, "established + reset")
	assert.Len(t, b.envelopes(t), 1, "excluded client only saw established")
	assert.Len(t, c.envelopes(t), 2)
	assert.Equal(t, TypeStateReset, a.envelopes(t)[1].Type)
}

func TestHub_BroadcastEvictsFailedSendInSamePass(t *testing.T) {
	hub := NewHub(testLogger())
	good, bad := &fakeConn{}, &fakeConn{}
	hub.Connect(t.Context(), "good", good)
	hub.Connect(t.Context(), "bad", bad)
	bad.setWriteErr(errors.New("broken pipe"))

	hub.Broadcast(t.Context(), StateReset())

	assert.Equal(t, 1, hub.Count(), "failed client evicted before Broadcast returns")
	assert.True(t, bad.isClosed())
	assert.Equal(t, []string{"good"}, hub.ClientIDs())
	require.Len(t, good.envelopes(t), 2)
}

func TestHub_SendTo(t *testing.T) {
	hub := NewHub(testLogger())
	a, b := &fakeConn{}, &fakeConn{}
	hub.Connect(t.Context(), "a", a)
	hub.Connect(t.Context(), "b", b)

	hub.SendTo(t.Context(), "a", Echo("hi"))

	require.Len(t, a.envelopes(t), 2)
	assert.Equal(t, "Echo: hi", dataMap(t, a.envelopes(t)[1])["message"])
	assert.Len(t, b.envelopes(t), 1)

	// unknown target is a no-op
	hub.SendTo(t.Context(), "nobody", Echo("hi"))
	assert.Equal(t, 2, hub.Count())
}

func TestHub_SendToFailureEvicts(t *testing.T) {
	hub := NewHub(testLogger())
	conn := &fakeConn{}
	hub.Connect(t.Context(), "flaky", conn)
	conn.setWriteErr(errors.New("write: connection reset"))

	hub.SendTo(t.Context(), "flaky", Echo("hi"))

	assert.Equal(t, 0, hub.Count())
	assert.True(t, conn.isClosed())
}

func TestHub_DisconnectIdempotent(t *testing.T) {
	hub := NewHub(testLogger())
	conn := &fakeConn{}
	hub.Connect(t.Context(), "ui-1", conn)

	hub.Disconnect("ui-1")
	hub.Disconnect("ui-1")
	hub.Disconnect("never-connected")

	assert.Equal(t, 0, hub.Count())
	assert.True(t, conn.isClosed())
	assert.Equal(t, websocket.StatusNormalClosure, conn.closeCode)
}

func TestHub_ConnectReplacesSameID(t *testing.T) {
	hub := NewHub(testLogger())
	first, second := &fakeConn{}, &fakeConn{}

	hub.Connect(t.Context(), "ui-1", first)
	hub.Connect(t.Context(), "ui-1", second)

	assert.Equal(t, 1, hub.Count())
	assert.True(t, first.isClosed())
	assert.Equal(t, websocket.StatusPolicyViolation, first.closeCode)

	hub.SendTo(t.Context(), "ui-1", Echo("hi"))
	assert.Len(t, second.envelopes(t), 2)
	assert.Len(t, first.envelopes(t), 1)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(testLogger())
	a, b := &fakeConn{}, &fakeConn{}
	hub.Connect(t.Context(), "a", a)
	hub.Connect(t.Context(), "b", b)

	hub.Close()

	assert.Equal(t, 0, hub.Count())
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, websocket.StatusGoingAway, a.closeCode)
}

func TestHub_ServeWS_EchoRoundTrip(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "ui-1")
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	readEnvelope := func() Envelope {
		t.Helper()
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	}

	est := readEnvelope()
	assert.Equal(t, TypeConnectionEstablished, est.Type)
	assert.Equal(t, "ui-1", dataMap(t, est)["client_id"])

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("ping")))
	echo := readEnvelope()
	assert.Equal(t, TypeEcho, echo.Type)
	assert.Equal(t, "Echo: ping", dataMap(t, echo)["message"])

	hub.Broadcast(ctx, LeadUpdated(state.Lead{Name: "Dana", Stage: 2, SessionID: "sess-1"}))
	update := readEnvelope()
	assert.Equal(t, TypeLeadUpdated, update.Type)
	assert.Equal(t, "Lead updated: Dana (Stage 2)", dataMap(t, update)["message"])

	conn.Close(websocket.StatusNormalClosure, "bye")
	require.Eventually(t, func() bool { return hub.Count() == 0 },
		5*time.Second, 10*time.Millisecond, "handler should deregister on client close")
}
