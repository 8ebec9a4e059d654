package stroke

import (
	"context"
	"sync"
)

// Store is the interface for stroke log backends. Segments of one room are
// returned in the order they were appended.
type Store interface {
	Append(ctx context.Context, seg Segment) error
	Room(ctx context.Context, roomID string) ([]Segment, error)
	ClearRoom(ctx context.Context, roomID string) error
	Count(ctx context.Context, roomID string) (int, error)
}

// MemoryStore keeps the stroke log in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	rooms   map[string][]Segment
	maxSize int
}

// NewMemoryStore creates a store that retains up to maxSize segments per
// room, dropping the oldest. A maxSize of 0 keeps everything.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		rooms:   make(map[string][]Segment),
		maxSize: maxSize,
	}
}

// Append adds a segment to its room's log.
func (s *MemoryStore) Append(_ context.Context, seg Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := append(s.rooms[seg.RoomID], seg)
	if s.maxSize > 0 && len(segs) > s.maxSize {
		segs = segs[len(segs)-s.maxSize:]
	}
	s.rooms[seg.RoomID] = segs
	return nil
}

// Room returns a copy of the room's log. The result is never nil.
func (s *MemoryStore) Room(_ context.Context, roomID string) ([]Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	segs := s.rooms[roomID]
	result := make([]Segment, len(segs))
	copy(result, segs)
	return result, nil
}

// ClearRoom removes every segment of a room.
func (s *MemoryStore) ClearRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

// Count returns the number of stored segments for a room.
func (s *MemoryStore) Count(_ context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID]), nil
}
