package room

import (
	"sort"
	"sync"
	"time"
)

// Room is the directory entry for one room id. Rooms are not created
// explicitly; an entry appears the first time a room id is joined or drawn to.
type Room struct {
	ID         string    `json:"id"`
	Members    int       `json:"members"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`

	evict *time.Timer
}

// Manager tracks member counts per room and, when configured, reports rooms
// that stayed empty for a grace period.
type Manager struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	grace  time.Duration
	onIdle func(roomID string)
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithEviction arranges for onIdle to be called once a room has had no
// members for grace. onIdle runs on its own goroutine and should confirm
// with RemoveIfEmpty, since a member may have joined in the meantime.
// A grace of 0 disables eviction (default).
func WithEviction(grace time.Duration, onIdle func(roomID string)) Option {
	return func(m *Manager) {
		m.grace = grace
		m.onIdle = onIdle
	}
}

// NewManager creates a new room Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		rooms: make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// entry returns the room, creating it if needed. Must be called while
// holding mu.
func (m *Manager) entry(id string, now time.Time) *Room {
	r, ok := m.rooms[id]
	if !ok {
		r = &Room{ID: id, CreatedAt: now, LastActive: now}
		m.rooms[id] = r
	}
	return r
}

// scheduleEviction starts the idle timer for an empty room. Must be called
// while holding mu.
func (m *Manager) scheduleEviction(r *Room) {
	if m.grace <= 0 || m.onIdle == nil || m.closed || r.Members > 0 || r.evict != nil {
		return
	}
	id := r.ID
	var t *time.Timer
	t = time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		cur, ok := m.rooms[id]
		fire := ok && cur.evict == t
		if fire {
			cur.evict = nil
		}
		m.mu.Unlock()
		if fire {
			m.onIdle(id)
		}
	})
	r.evict = t
}

// cancelEviction stops a pending idle timer. Must be called while holding mu.
func (m *Manager) cancelEviction(r *Room) {
	if r.evict != nil {
		r.evict.Stop()
		r.evict = nil
	}
}

// Join adds a member to the room.
func (m *Manager) Join(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.entry(id, time.Now())
	r.Members++
	r.LastActive = time.Now()
	m.cancelEviction(r)
}

// Leave removes a member from the room.
func (m *Manager) Leave(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return
	}
	if r.Members > 0 {
		r.Members--
	}
	r.LastActive = time.Now()
	m.scheduleEviction(r)
}

// Touch records activity in a room, creating its entry if needed. An empty
// room's grace period restarts from now.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.entry(id, time.Now())
	r.LastActive = time.Now()
	m.cancelEviction(r)
	m.scheduleEviction(r)
}

// RemoveIfEmpty drops the room if it has no members and reports whether it
// did.
func (m *Manager) RemoveIfEmpty(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok || r.Members > 0 {
		return false
	}
	m.cancelEviction(r)
	delete(m.rooms, id)
	return true
}

// Get returns a copy of the room entry.
func (m *Manager) Get(id string) (Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, false
	}
	cp := *r
	cp.evict = nil
	return cp, true
}

// List returns all rooms sorted by member count (descending), then id.
func (m *Manager) List() []Room {
	m.mu.Lock()
	result := make([]Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		cp := *r
		cp.evict = nil
		result = append(result, cp)
	}
	m.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Members != result[j].Members {
			return result[i].Members > result[j].Members
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Count returns the number of known rooms.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Close stops all pending eviction timers. Rooms are kept.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, r := range m.rooms {
		m.cancelEviction(r)
	}
}
