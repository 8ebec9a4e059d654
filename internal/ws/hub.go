package ws

import (
	"context"
	"sync"

	"nhooyr.io/websocket"
)

// Client represents a connected WebSocket.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	id     string
	roomID string
}

// Hub keeps connections by id and groups them by room. It implements
// board.Broadcaster.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[*Client]struct{}
	conns   *ConnManager
}

// NewHub creates a new Hub whose connections are managed with opts.
func NewHub(opts ...ConnManagerOption) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[*Client]struct{}),
		conns:   NewConnManager(opts...),
	}
}

// ConnMgr returns the connection manager for this hub.
func (h *Hub) ConnMgr() *ConnManager {
	return h.conns
}

// register starts the client's write pump and makes it addressable by id.
// The returned context is cancelled when the client is removed.
func (h *Hub) register(c *Client) context.Context {
	ctx := h.conns.Add(c)
	if ctx.Err() != nil {
		return ctx
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return ctx
}

// unregister stops the client's write pump and drops it from every group.
func (h *Hub) unregister(c *Client) {
	h.conns.Remove(c)

	h.mu.Lock()
	h.leaveLocked(c)
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
}

// leaveLocked removes c from its room group. Must be called while holding mu.
func (h *Hub) leaveLocked(c *Client) {
	if c.roomID == "" {
		return
	}
	if clients, ok := h.rooms[c.roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
	c.roomID = ""
}

// Join moves the connection into roomID's broadcast group.
func (h *Hub) Join(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return
	}
	h.leaveLocked(c)
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	c.roomID = roomID
}

// Leave removes the connection from its broadcast group.
func (h *Hub) Leave(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[connID]; ok {
		h.leaveLocked(c)
	}
}

// SendTo queues a frame for one connection.
func (h *Hub) SendTo(connID string, data []byte) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()

	if ok {
		h.conns.Send(c, data)
	}
}

// Broadcast queues a frame for every connection in a room.
func (h *Hub) Broadcast(roomID string, data []byte) {
	h.mu.RLock()
	clients := h.rooms[roomID]
	// Copy the set so we can release the lock before sending.
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.conns.Send(c, data)
	}
}

// ClientCount returns the number of connections in a room.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.conns.Shutdown()
}
