// Package board implements the room registry and event relay behind the
// drawing board: who is in which room, the stroke log of every room, and the
// fan-out of draw, pen and clear events to room members.
package board

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/christopherjohns/drawboard/internal/metrics"
	"github.com/christopherjohns/drawboard/internal/room"
	"github.com/christopherjohns/drawboard/internal/stroke"
	"github.com/christopherjohns/drawboard/internal/user"
)

// Broadcaster delivers encoded frames to connections. Implementations must
// not block: the relay calls them while holding its lock.
type Broadcaster interface {
	// Join moves a connection into a room's broadcast group.
	Join(connID, roomID string)
	// Leave removes a connection from whatever group it is in.
	Leave(connID string)
	SendTo(connID string, data []byte)
	Broadcast(roomID string, data []byte)
}

// RoomSummary describes a room for listings.
type RoomSummary struct {
	ID         string    `json:"id"`
	Users      int       `json:"users"`
	Segments   int       `json:"segments"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Relay owns users, rooms and the stroke log. Every operation runs under a
// single lock, so the broadcasts of one room are enqueued in exactly the
// order the operations were applied.
type Relay struct {
	mu      sync.Mutex
	users   *user.Registry
	rooms   *room.Manager
	strokes stroke.Store
	out     Broadcaster
	logger  zerolog.Logger

	evictAfter time.Duration
}

// Option configures a Relay.
type Option func(*Relay)

// WithEvictAfter drops the stroke log of a room once it has been empty for d.
// A value of 0 keeps every room forever (default).
func WithEvictAfter(d time.Duration) Option {
	return func(r *Relay) {
		r.evictAfter = d
	}
}

// New creates a Relay that delivers through out and keeps strokes in strokes.
func New(out Broadcaster, strokes stroke.Store, logger zerolog.Logger, opts ...Option) *Relay {
	r := &Relay{
		users:   user.NewRegistry(),
		strokes: strokes,
		out:     out,
		logger:  logger.With().Str("component", "relay").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.rooms = room.NewManager(room.WithEviction(r.evictAfter, r.evict))
	return r
}

// Announce registers connID as username in roomID, sends the room's user
// list to every member and replays the room's strokes to connID alone.
// Announcing again from the same connection moves it to the new room.
func (r *Relay) Announce(ctx context.Context, connID, username, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, replaced := r.users.Register(connID, username, roomID)
	moved := replaced && prev.RoomID != roomID

	r.out.Join(connID, roomID)
	if moved {
		r.rooms.Leave(prev.RoomID)
	}
	if !replaced || moved {
		r.rooms.Join(roomID)
	}

	r.logger.Info().
		Str("conn_id", connID).
		Str("room_id", roomID).
		Str("username", username).
		Msg("user joined")

	r.broadcastUsers(roomID)
	if moved {
		r.broadcastUsers(prev.RoomID)
	}

	segs, err := r.strokes.Room(ctx, roomID)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("read").Inc()
		r.logger.Error().Err(err).Str("room_id", roomID).Msg("replay read failed")
	}
	replay := make([]json.RawMessage, 0, len(segs))
	for _, s := range segs {
		replay = append(replay, s.Replay())
	}
	r.sendTo(connID, EventInit, replay)
}

// Draw appends seg to the stroke log and sends its payload, unchanged, to
// every member of its room, the sender included.
func (r *Relay) Draw(ctx context.Context, seg stroke.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.strokes.Append(ctx, seg); err != nil {
		metrics.StoreErrors.WithLabelValues("append").Inc()
		r.logger.Error().Err(err).Str("room_id", seg.RoomID).Msg("append segment failed")
	}
	r.rooms.Touch(seg.RoomID)
	r.broadcast(seg.RoomID, EventDraw, seg)
}

// UpdatePen changes the pen of a registered connection and sends roomID's
// user list to that room. Color and size are JSON values relayed as given.
// Unregistered connections are ignored.
func (r *Relay) UpdatePen(connID string, color, size json.RawMessage, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.users.UpdatePen(connID, color, size) {
		r.logger.Debug().Str("conn_id", connID).Msg("pen update from unregistered connection")
		return
	}
	r.broadcastUsers(roomID)
}

// Clear drops every segment of roomID and tells the room to clear its canvas.
func (r *Relay) Clear(ctx context.Context, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.strokes.ClearRoom(ctx, roomID); err != nil {
		metrics.StoreErrors.WithLabelValues("clear").Inc()
		r.logger.Error().Err(err).Str("room_id", roomID).Msg("clear room failed")
	}
	metrics.CanvasClears.Inc()
	r.broadcast(roomID, EventClearCanvas, nil)
}

// Disconnect forgets connID and sends the remaining members of its room the
// updated user list. The connection's strokes stay in the log.
func (r *Relay) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.out.Leave(connID)
	u, ok := r.users.Remove(connID)
	if !ok {
		return
	}
	r.rooms.Leave(u.RoomID)

	r.logger.Info().
		Str("conn_id", connID).
		Str("room_id", u.RoomID).
		Str("username", u.Username).
		Msg("user left")

	r.broadcastUsers(u.RoomID)
}

// Rooms summarises every known room.
func (r *Relay) Rooms(ctx context.Context) []RoomSummary {
	rooms := r.rooms.List()
	result := make([]RoomSummary, 0, len(rooms))
	for _, rm := range rooms {
		n, err := r.strokes.Count(ctx, rm.ID)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("count").Inc()
			r.logger.Warn().Err(err).Str("room_id", rm.ID).Msg("count segments failed")
		}
		result = append(result, RoomSummary{
			ID:         rm.ID,
			Users:      rm.Members,
			Segments:   n,
			CreatedAt:  rm.CreatedAt,
			LastActive: rm.LastActive,
		})
	}
	return result
}

// UserCount returns the number of registered connections.
func (r *Relay) UserCount() int {
	return r.users.Count()
}

// RoomCount returns the number of known rooms.
func (r *Relay) RoomCount() int {
	return r.rooms.Count()
}

// Close stops pending room evictions.
func (r *Relay) Close() {
	r.rooms.Close()
}

// evict runs when a room has stayed empty for the eviction grace period.
func (r *Relay) evict(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.rooms.RemoveIfEmpty(roomID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.strokes.ClearRoom(ctx, roomID); err != nil {
		metrics.StoreErrors.WithLabelValues("clear").Inc()
		r.logger.Error().Err(err).Str("room_id", roomID).Msg("evict room failed")
		return
	}
	metrics.RoomsEvicted.Inc()
	r.logger.Info().Str("room_id", roomID).Dur("grace", r.evictAfter).Msg("evicted empty room")
}

// broadcastUsers sends roomID's user list to the room. Must be called while
// holding mu.
func (r *Relay) broadcastUsers(roomID string) {
	r.broadcast(roomID, EventUpdateUsers, r.users.InRoom(roomID))
}

func (r *Relay) broadcast(roomID, event string, payload any) {
	data, err := Encode(event, payload)
	if err != nil {
		r.logger.Error().Err(err).Msg("encode broadcast failed")
		return
	}
	r.out.Broadcast(roomID, data)
}

func (r *Relay) sendTo(connID, event string, payload any) {
	data, err := Encode(event, payload)
	if err != nil {
		r.logger.Error().Err(err).Msg("encode message failed")
		return
	}
	r.out.SendTo(connID, data)
}
