// Package relay is the real-time broadcast channel: every message a client
// sends is written verbatim to every other attached client. There are no
// topics, no framing and no backpressure policy.
package relay

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ─────────────────────────────────────────────────────────────────────────────
// Hub
// ─────────────────────────────────────────────────────────────────────────────

// Conn is the write side of one attached client. *websocket.Conn satisfies
// it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Hub holds the set of attached connections. The set's mutex is never held
// across a write; each connection carries its own write lock instead, so a
// slow client stalls only the broadcasts that reach it and a connection
// never sees two concurrent writes.
type Hub struct {
	mu     sync.Mutex
	conns  map[Conn]*sync.Mutex
	logger *slog.Logger
}

// NewHub returns an empty hub. A nil logger means slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{conns: make(map[Conn]*sync.Mutex), logger: logger}
}

// Attach adds c to the broadcast set.
func (h *Hub) Attach(c Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.conns[c] = &sync.Mutex{}
	}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("relay: connection attached", "connections", n)
}

// Detach removes c. Detaching an unknown connection is a no-op.
func (h *Hub) Detach(c Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()
	if ok {
		h.logger.Info("relay: connection detached", "connections", n)
	}
}

// Len reports the number of attached connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

type target struct {
	conn Conn
	wmu  *sync.Mutex
}

// targets copies the broadcast set, minus from.
func (h *Hub) targets(from Conn) []target {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]target, 0, len(h.conns))
	for c, wmu := range h.conns {
		if c != from {
			out = append(out, target{conn: c, wmu: wmu})
		}
	}
	return out
}

// Broadcast writes data to every connection attached when it starts, except
// from, and returns how many writes succeeded. A connection whose write
// fails is closed and detached.
func (h *Hub) Broadcast(from Conn, messageType int, data []byte) int {
	sent := 0
	for _, t := range h.targets(from) {
		t.wmu.Lock()
		err := t.conn.WriteMessage(messageType, data)
		t.wmu.Unlock()
		if err != nil {
			h.logger.Warn("relay: write failed, dropping connection", "error", err)
			_ = t.conn.Close()
			h.Detach(t.conn)
			continue
		}
		sent++
	}
	return sent
}

// ─────────────────────────────────────────────────────────────────────────────
// WebSocket endpoint
// ─────────────────────────────────────────────────────────────────────────────

const (
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 64 << 10
)

// ServerConfig configures the websocket endpoint.
type ServerConfig struct {
	// AllowedOrigins lists the accepted Origin headers. Empty or "*" accepts
	// any origin.
	AllowedOrigins []string
	// WriteWait bounds each write to a client. Defaults to 10s.
	WriteWait time.Duration
	// MaxMessageSize caps inbound messages. Defaults to 64 KiB.
	MaxMessageSize int64
	Logger         *slog.Logger
}

// Server upgrades HTTP requests and relays their messages through a Hub.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	cfg      ServerConfig
	logger   *slog.Logger
}

// NewServer returns the websocket handler for hub.
func NewServer(hub *Hub, cfg ServerConfig) *Server {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{hub: hub, cfg: cfg, logger: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// ServeHTTP attaches the upgraded connection for its lifetime. The upgrader
// writes the HTTP error itself when the handshake fails.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("relay: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	c := &deadlineConn{Conn: ws, wait: s.cfg.WriteWait}
	s.hub.Attach(c)
	defer func() {
		s.hub.Detach(c)
		_ = ws.Close()
	}()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("relay: read failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		s.hub.Broadcast(c, mt, data)
	}
}

// deadlineConn sets a write deadline before every write.
type deadlineConn struct {
	*websocket.Conn
	wait time.Duration
}

func (c *deadlineConn) WriteMessage(messageType int, data []byte) error {
	if err := c.SetWriteDeadline(time.Now().Add(c.wait)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}
