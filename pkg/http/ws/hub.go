package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub owns all live WebSocket connections and the per-session fan-out
// groups. A connection joins at most one session; the session itself is
// looked up by code elsewhere — the hub only holds the back-reference.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]*Connection
	groups      map[string][]uuid.UUID // session code -> member connections
	logger      zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID]*Connection),
		groups:      make(map[string][]uuid.UUID),
		logger:      logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Register adds a connection before it has joined any session.
func (h *Hub) Register(connID uuid.UUID, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, exists := h.connections[connID]; exists {
		old.Close()
	}
	h.connections[connID] = conn
	h.logger.Debug().Str("conn_id", connID.String()).Msg("connection registered")
}

// Unregister closes and removes a connection and drops it from its group.
func (h *Hub) Unregister(connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(connID)
}

func (h *Hub) unregisterLocked(connID uuid.UUID) {
	conn, exists := h.connections[connID]
	if !exists {
		return
	}
	conn.Close()
	delete(h.connections, connID)
	if conn.sessionCode != "" {
		h.leaveLocked(conn.sessionCode, connID)
	}
	h.logger.Debug().Str("conn_id", connID.String()).Msg("connection unregistered")
}

// Join adds the connection to a session's fan-out group and records its
// role and identity on the connection.
func (h *Hub) Join(code string, connID uuid.UUID, role Role, identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, exists := h.connections[connID]
	if !exists {
		return
	}
	if conn.sessionCode != "" && conn.sessionCode != code {
		h.leaveLocked(conn.sessionCode, connID)
	}
	conn.sessionCode = code
	conn.role = role
	conn.identity = identity

	for _, id := range h.groups[code] {
		if id == connID {
			return
		}
	}
	h.groups[code] = append(h.groups[code], connID)
}

// Leave removes the connection from its session group without closing it.
func (h *Hub) Leave(connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, exists := h.connections[connID]
	if !exists {
		return
	}
	code := conn.sessionCode
	conn.sessionCode = ""
	if code != "" {
		h.leaveLocked(code, connID)
	}
}

func (h *Hub) leaveLocked(code string, connID uuid.UUID) {
	members := h.groups[code]
	for i, id := range members {
		if id == connID {
			h.groups[code] = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(h.groups[code]) == 0 {
		delete(h.groups, code)
	}
}

// Info reports the session code, role and identity a connection carries.
func (h *Hub) Info(connID uuid.UUID) (code string, role Role, identity string, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, exists := h.connections[connID]
	if !exists {
		return "", "", "", false
	}
	return conn.sessionCode, conn.role, conn.identity, true
}

// Broadcast delivers an envelope to every connection in the session group,
// best-effort. Connections that fail to accept the message are unregistered
// so a broken peer never stalls the others.
func (h *Hub) Broadcast(code string, env Envelope) {
	h.broadcast(code, env, "")
}

// BroadcastRole delivers an envelope only to group members with the given
// role (e.g. host-only events).
func (h *Hub) BroadcastRole(code string, role Role, env Envelope) {
	h.broadcast(code, env, role)
}

func (h *Hub) broadcast(code string, env Envelope, role Role) {
	h.mu.RLock()
	members := make([]uuid.UUID, len(h.groups[code]))
	copy(members, h.groups[code])
	h.mu.RUnlock()

	var failed []uuid.UUID
	for _, connID := range members {
		h.mu.RLock()
		conn, exists := h.connections[connID]
		var connRole Role
		if exists {
			connRole = conn.role
		}
		h.mu.RUnlock()
		if !exists {
			continue
		}
		if role != "" && connRole != role {
			continue
		}
		if err := conn.Send(env); err != nil {
			h.logger.Warn().Err(err).
				Str("conn_id", connID.String()).
				Str("session_code", code).
				Str("event_type", env.EventType).
				Msg("broadcast send failed")
			failed = append(failed, connID)
		}
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, connID := range failed {
			h.unregisterLocked(connID)
		}
		h.mu.Unlock()
	}
}

// Send delivers an envelope to a single connection.
func (h *Hub) Send(connID uuid.UUID, env Envelope) error {
	h.mu.RLock()
	conn, exists := h.connections[connID]
	h.mu.RUnlock()

	if !exists {
		return ErrConnectionNotFound
	}
	return conn.Send(env)
}

// GroupSize reports how many connections are attached to a session.
func (h *Hub) GroupSize(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[code])
}

// Connection wraps a WebSocket with a bounded send queue so writes never
// block the caller.
type Connection struct {
	sock   *websocket.Conn
	sendCh chan Envelope
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger

	// session membership, managed by the hub under its lock
	sessionCode string
	role        Role
	identity    string
}

// NewConnection wraps a WebSocket connection. A nil socket is allowed for
// queue-only use (tests, loopback pumps).
func NewConnection(sock *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		sock:   sock,
		sendCh: make(chan Envelope, 256),
		logger: logger,
	}
}

// Send queues an envelope for delivery without blocking.
func (c *Connection) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.sendCh <- env:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts the connection down; safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
	if c.sock != nil {
		c.sock.Close()
	}
}

// Outbox exposes the send queue for consumers that drain it themselves
// instead of running WritePump.
func (c *Connection) Outbox() <-chan Envelope {
	return c.sendCh
}

// WritePump drains the send queue onto the socket until the queue closes
// or a write fails.
func (c *Connection) WritePump() {
	defer func() {
		if c.sock != nil {
			c.sock.Close()
		}
	}()

	for env := range c.sendCh {
		if err := c.sock.WriteJSON(env); err != nil {
			c.logger.Warn().Err(err).Msg("write error")
			return
		}
	}
	c.sock.WriteMessage(websocket.CloseMessage, []byte{})
}

// ReadPump decodes inbound envelopes and hands them to the handler until
// the socket errors or closes.
func (c *Connection) ReadPump(handler func(Envelope) error) {
	defer c.sock.Close()

	c.sock.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var env Envelope
		if err := c.sock.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		if err := handler(env); err != nil {
			c.logger.Warn().Err(err).Str("action", env.Action).Msg("message handler error")
		}
	}
}

var (
	ErrConnectionNotFound = &Error{Code: "connection_not_found", Message: "Connection not found"}
	ErrConnectionClosed   = &Error{Code: "connection_closed", Message: "Connection is closed"}
	ErrSendQueueFull      = &Error{Code: "send_queue_full", Message: "Send queue is full"}
)

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
