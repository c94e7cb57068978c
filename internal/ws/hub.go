// ABOUTME: WebSocket hub fanning out realtime events to connected UI clients
// ABOUTME: Registry is client id to connection; failed sends evict in the same pass

package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single frame write. A client that cannot drain a
// frame within it is treated as dead and evicted.
const writeTimeout = 5 * time.Second

// Conn is the slice of a websocket connection the hub writes to. Tests
// substitute fakes; production passes *websocket.Conn.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

var _ Conn = (*websocket.Conn)(nil)

// client pairs a connection with the mutex serializing writes to it. The
// underlying library allows one concurrent writer per connection.
type client struct {
	mu   sync.Mutex
	conn Conn
}

func (c *client) write(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Hub tracks live UI connections and fans envelopes out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: map[string]*client{},
		logger:  logger.With("component", "ws"),
	}
}

// Connect registers a connection under clientID and immediately pushes the
// connection_established event. A second connection under the same id
// replaces the first, which is closed.
func (h *Hub) Connect(ctx context.Context, clientID string, conn Conn) {
	h.mu.Lock()
	old := h.clients[clientID]
	h.clients[clientID] = &client{conn: conn}
	total := len(h.clients)
	h.mu.Unlock()

	if old != nil {
		old.conn.Close(websocket.StatusPolicyViolation, "replaced by newer connection")
	}

	h.logger.Info("client connected", "client_id", clientID, "total", total)
	h.SendTo(ctx, clientID, ConnectionEstablished(clientID))
}

// Disconnect deregisters and closes a client connection. Unknown ids are a
// no-op, so teardown paths can call it unconditionally.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	cl, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	remaining := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	cl.conn.Close(websocket.StatusNormalClosure, "disconnected")
	h.logger.Info("client disconnected", "client_id", clientID, "remaining", remaining)
}

// Broadcast serializes the envelope once and sends it to every connected
// client not in exclude. Clients whose send fails are evicted before the
// call returns.
func (h *Hub) Broadcast(ctx context.Context, ev Envelope, exclude ...string) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encoding broadcast envelope", "type", ev.Type, "error", err)
		return
	}

	skip := map[string]bool{}
	for _, id := range exclude {
		skip[id] = true
	}

	type target struct {
		id string
		cl *client
	}
	h.mu.RLock()
	targets := make([]target, 0, len(h.clients))
	for id, cl := range h.clients {
		if !skip[id] {
			targets = append(targets, target{id: id, cl: cl})
		}
	}
	h.mu.RUnlock()

	var failed []string
	for _, tg := range targets {
		if err := tg.cl.write(ctx, data); err != nil {
			h.logger.Warn("broadcast send failed, evicting client", "client_id", tg.id, "error", err)
			failed = append(failed, tg.id)
		}
	}
	for _, id := range failed {
		h.Disconnect(id)
	}

	h.logger.Debug("broadcast sent", "type", ev.Type, "clients", len(targets)-len(failed))
}

// SendTo sends the envelope to one client. An unknown id is a no-op; a
// failed send evicts the client.
func (h *Hub) SendTo(ctx context.Context, clientID string, ev Envelope) {
	h.mu.RLock()
	cl, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encoding envelope", "type", ev.Type, "error", err)
		return
	}

	if err := cl.write(ctx, data); err != nil {
		h.logger.Warn("send failed, evicting client", "client_id", clientID, "error", err)
		h.Disconnect(clientID)
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ClientIDs returns the ids of every connected client.
func (h *Hub) ClientIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// Close disconnects every client, used on server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = map[string]*client{}
	h.mu.Unlock()

	for _, cl := range clients {
		cl.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	if len(clients) > 0 {
		h.logger.Info("hub closed", "clients", len(clients))
	}
}

// ServeWS upgrades the request, registers the client, and echoes inbound
// text frames until the connection drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// the dashboard is served from a different origin than the API
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "client_id", clientID, "error", err)
		return
	}

	h.Connect(r.Context(), clientID, conn)
	defer h.Disconnect(clientID)

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		h.SendTo(r.Context(), clientID, Echo(string(data)))
	}
}
