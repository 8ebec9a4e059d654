package stroke

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTimeout bounds every Redis call made by RedisStore.
const redisTimeout = 2 * time.Second

// redisKey returns the Redis key for a room's segment list.
func redisKey(roomID string) string {
	return "drawboard:room:" + roomID + ":segments"
}

// RedisStore keeps the stroke log in Redis using a list per room.
type RedisStore struct {
	client  redis.Cmdable
	maxSize int64
	ttl     time.Duration
}

// NewRedisStore creates a RedisStore that retains up to maxSize segments per
// room (0 = unbounded). A positive ttl expires a room's list after that long
// without a new segment.
func NewRedisStore(client redis.Cmdable, maxSize int, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		maxSize: int64(maxSize),
		ttl:     ttl,
	}
}

// Append pushes a segment onto the room's list, trimming and refreshing the
// expiry in the same pipeline.
func (s *RedisStore) Append(ctx context.Context, seg Segment) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	data, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("redis: marshal segment: %w", err)
	}

	key := redisKey(seg.RoomID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.maxSize > 0 {
		pipe.LTrim(ctx, key, -s.maxSize, -1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append segment: %w", err)
	}
	return nil
}

// Room returns the room's log in append order. Entries that fail to decode
// are skipped.
func (s *RedisStore) Room(ctx context.Context, roomID string) ([]Segment, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	vals, err := s.client.LRange(ctx, redisKey(roomID), 0, -1).Result()
	if err != nil {
		return []Segment{}, fmt.Errorf("redis: read segments: %w", err)
	}

	segs := make([]Segment, 0, len(vals))
	for _, v := range vals {
		var seg Segment
		if err := json.Unmarshal([]byte(v), &seg); err != nil {
			continue
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// ClearRoom deletes the room's list.
func (s *RedisStore) ClearRoom(ctx context.Context, roomID string) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if err := s.client.Del(ctx, redisKey(roomID)).Err(); err != nil {
		return fmt.Errorf("redis: clear room: %w", err)
	}
	return nil
}

// Count returns the length of the room's list.
func (s *RedisStore) Count(ctx context.Context, roomID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	n, err := s.client.LLen(ctx, redisKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count segments: %w", err)
	}
	return int(n), nil
}
