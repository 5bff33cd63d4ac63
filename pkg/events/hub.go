package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Hub fans bus events out to WebSocket clients grouped into per-session
// rooms. Each process has one Hub instance; the API layer authorizes a
// client before calling Join.
type Hub struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Room membership: session_id → set of connection_ids
	rooms   map[string]map[string]bool
	roomsMu sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
type Connection struct {
	ID     string
	UserID string
	Role   string
	Conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub with the given per-send write timeout.
func NewHub(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		connections:  make(map[string]*Connection),
		rooms:        make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// Register adds a freshly upgraded connection and returns it. The caller
// owns the read loop and must call Unregister when the loop exits.
func (h *Hub) Register(parentCtx context.Context, conn *websocket.Conn, userID, role string) *Connection {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:     uuid.New().String(),
		UserID: userID,
		Role:   role,
		Conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	h.connections[c.ID] = c
	h.mu.Unlock()

	h.SendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.ID,
	})
	return c
}

// Unregister removes a connection from every room and drops it.
func (h *Hub) Unregister(c *Connection) {
	h.roomsMu.Lock()
	for sessionID, members := range h.rooms {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	h.roomsMu.Unlock()

	h.mu.Lock()
	delete(h.connections, c.ID)
	h.mu.Unlock()

	c.cancel()
}

// Join adds a connection to a session room.
func (h *Hub) Join(c *Connection, sessionID string) {
	h.roomsMu.Lock()
	if _, ok := h.rooms[sessionID]; !ok {
		h.rooms[sessionID] = make(map[string]bool)
	}
	h.rooms[sessionID][c.ID] = true
	h.roomsMu.Unlock()
}

// Leave removes a connection from a session room.
func (h *Hub) Leave(c *Connection, sessionID string) {
	h.roomsMu.Lock()
	if members, ok := h.rooms[sessionID]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	h.roomsMu.Unlock()
}

// Broadcast delivers an event to every member of its session room. Events
// without a session id go to all connections.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal event for broadcast",
			"event_type", ev.Type, "error", err)
		return
	}

	for _, conn := range h.targets(ev.SessionID) {
		if err := h.sendRaw(conn, data); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "event_type", ev.Type, "error", err)
		}
	}
}

// targets snapshots the connections an event should reach. Pointers are
// collected under the locks and sends happen after release, so a slow
// client (up to writeTimeout) never stalls register/unregister.
func (h *Hub) targets(sessionID string) []*Connection {
	var ids []string
	if sessionID == "" {
		h.mu.RLock()
		conns := make([]*Connection, 0, len(h.connections))
		for _, c := range h.connections {
			conns = append(conns, c)
		}
		h.mu.RUnlock()
		return conns
	}

	h.roomsMu.RLock()
	members, ok := h.rooms[sessionID]
	if !ok {
		h.roomsMu.RUnlock()
		return nil
	}
	ids = make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	h.roomsMu.RUnlock()

	h.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	return conns
}

// SendJSON marshals v and sends it to a single connection.
func (h *Hub) SendJSON(c *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.sendRaw(c, data)
}

func (h *Hub) sendRaw(c *Connection, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.Conn.Write(ctx, websocket.MessageText, data)
}

// ActiveConnections returns the count of registered WebSocket clients.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// roomSize returns the membership count for a session room.
// Unexported — used by tests to poll instead of sleeping.
func (h *Hub) roomSize(sessionID string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[sessionID])
}
