// Package tail streams accepted CloudEvents to websocket observers.
package tail

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	readLimit    = 512
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	typ  string
}

// Hub fans events out to every connected websocket client. A client that
// cannot keep up is disconnected rather than slowing down ingestion.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	onChange func(clients int)

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type Option func(*Hub)

// WithClientCount registers a callback invoked with the client count whenever
// it changes.
func WithClientCount(fn func(int)) Option {
	return func(h *Hub) { h.onChange = fn }
}

func NewHub(logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:   logger,
		onChange: func(int) {},
		clients:  make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. The optional "type" query parameter restricts the stream to one event
// type.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "tail is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		typ:  r.URL.Query().Get("type"),
	}
	if !h.add(c) {
		conn.Close()
		return
	}
	h.logger.Debug("tail client connected", zap.String("remote", r.RemoteAddr), zap.String("type", c.typ))

	go h.writeLoop(c)
	h.readLoop(c)
}

// Broadcast queues ce for every interested client.
func (h *Hub) Broadcast(ce schemas.CloudEvent) {
	b, err := json.Marshal(ce)
	if err != nil {
		h.logger.Error("encode event for tail", zap.String("id", ce.ID()), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.typ != "" && c.typ != ce.Type() {
			continue
		}
		select {
		case c.send <- b:
		default:
			h.logger.Warn("dropping slow tail client", zap.String("remote", c.conn.RemoteAddr().String()))
			h.removeLocked(c)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.onChange(len(h.clients))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked closes the send channel exactly once, which stops writeLoop.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.onChange(len(h.clients))
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for b := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeTimeout))
}

// readLoop discards inbound frames; it returns once the connection fails or
// is closed.
func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(readLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}
