package user

import (
	"encoding/json"
	"sort"
	"sync"
)

// Registry holds the users of every room, keyed by connection id.
type Registry struct {
	mu    sync.Mutex
	users map[string]*User
	next  uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*User),
	}
}

// Register records connID as username in roomID with the default pen,
// replacing any previous record for the connection. It returns the record
// that was replaced, if any.
func (r *Registry) Register(connID, username, roomID string) (prev *User, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.users[connID]; ok {
		cp := *old
		prev, replaced = &cp, true
	}
	r.next++
	r.users[connID] = &User{
		Username: username,
		RoomID:   roomID,
		Color:    DefaultColor,
		Size:     DefaultSize,
		seq:      r.next,
	}
	return prev, replaced
}

// UpdatePen sets the color and size of a registered connection to the given
// JSON values. It reports false when connID is unknown.
func (r *Registry) UpdatePen(connID string, color, size json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[connID]
	if !ok {
		return false
	}
	u.Color = color
	u.Size = size
	return true
}

// Remove deletes the connection's record and returns it.
func (r *Registry) Remove(connID string) (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[connID]
	if !ok {
		return User{}, false
	}
	delete(r.users, connID)
	return *u, true
}

// Get returns a copy of the connection's record.
func (r *Registry) Get(connID string) (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[connID]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// InRoom returns the users of a room in registration order. The result is
// never nil.
func (r *Registry) InRoom(roomID string) []User {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]User, 0)
	for _, u := range r.users {
		if u.RoomID == roomID {
			result = append(result, *u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
