package stroke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func seg(roomID string, x float64) Segment {
	s, err := Parse([]byte(fmt.Sprintf(
		`{"prevX":%v,"prevY":%v,"x":%v,"y":%v,"color":"#ff0000","size":3,"roomId":%q}`,
		x-1, x-1, x, x, roomID)))
	if err != nil {
		panic(err)
	}
	return s
}

// xOf reads the x member of a stored segment.
func xOf(t *testing.T, s Segment) float64 {
	t.Helper()
	var p struct {
		X float64 `json:"x"`
	}
	if err := json.Unmarshal(s.Payload, &p); err != nil {
		t.Fatalf("decode %s: %v", s.Payload, err)
	}
	return p.X
}

func TestMemoryStoreAppendAndCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	s.Append(ctx, seg("room1", 1))
	s.Append(ctx, seg("room1", 2))

	if n, _ := s.Count(ctx, "room1"); n != 2 {
		t.Fatalf("expected 2 segments, got %d", n)
	}
	if n, _ := s.Count(ctx, "room2"); n != 0 {
		t.Fatalf("expected 0 segments for room2, got %d", n)
	}
}

func TestMemoryStoreRoomOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	for i := 1; i <= 5; i++ {
		s.Append(ctx, seg("room1", float64(i)))
		s.Append(ctx, seg("room2", float64(-i)))
	}

	got, err := s.Room(ctx, "room1")
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 segments, got %d", len(got))
	}
	for i, g := range got {
		if x := xOf(t, g); x != float64(i+1) {
			t.Errorf("segment %d: expected x=%d, got %v", i, i+1, x)
		}
		if g.RoomID != "room1" {
			t.Errorf("segment %d leaked from room %q", i, g.RoomID)
		}
	}
}

func TestMemoryStoreRoomEmptyIsNotNil(t *testing.T) {
	s := NewMemoryStore(0)
	got, _ := s.Room(context.Background(), "nowhere")
	if got == nil {
		t.Fatal("expected empty slice, got nil")
	}
}

func TestMemoryStoreMaxSize(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)

	for i := 0; i < 5; i++ {
		s.Append(ctx, seg("room1", float64(i)))
	}

	got, _ := s.Room(ctx, "room1")
	if len(got) != 3 {
		t.Fatalf("expected 3 segments (max size), got %d", len(got))
	}
	if first, last := xOf(t, got[0]), xOf(t, got[2]); first != 2 || last != 4 {
		t.Errorf("expected oldest segments trimmed, got first x=%v last x=%v", first, last)
	}
}

func TestMemoryStoreClearRoom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	s.Append(ctx, seg("room1", 1))
	s.Append(ctx, seg("room2", 1))

	s.ClearRoom(ctx, "room1")

	if n, _ := s.Count(ctx, "room1"); n != 0 {
		t.Errorf("expected room1 cleared, got %d", n)
	}
	if n, _ := s.Count(ctx, "room2"); n != 1 {
		t.Errorf("expected room2 untouched, got %d", n)
	}
}

func TestMemoryStoreRoomReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	s.Append(ctx, seg("room1", 1))

	got, _ := s.Room(ctx, "room1")
	got[0].RoomID = "elsewhere"

	again, _ := s.Room(ctx, "room1")
	if again[0].RoomID != "room1" {
		t.Errorf("stored segment was mutated through returned slice")
	}
}

func TestSegmentReplayDropsRoomID(t *testing.T) {
	var fields map[string]any
	replay := seg("room1", 10).Replay()
	if err := json.Unmarshal(replay, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := fields["roomId"]; ok {
		t.Errorf("expected no roomId in replay shape, got %s", replay)
	}
	for _, k := range []string{"prevX", "prevY", "x", "y", "color", "size"} {
		if _, ok := fields[k]; !ok {
			t.Errorf("missing field %q in %s", k, replay)
		}
	}
}

func TestParseKeepsPayloadVerbatim(t *testing.T) {
	raw := `{"prevX":"0","prevY":0,"x":1.50,"y":1,"color":16711680,"size":"abc","tool":"pen","roomId":"r"}`
	s, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.RoomID != "r" {
		t.Errorf("expected room r, got %q", s.RoomID)
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != raw {
		t.Errorf("expected payload unchanged\nwant %s\ngot  %s", raw, data)
	}

	var fields map[string]json.RawMessage
	json.Unmarshal(s.Replay(), &fields)
	if string(fields["prevX"]) != `"0"` || string(fields["x"]) != `1.50` || string(fields["tool"]) != `"pen"` {
		t.Errorf("expected members kept in replay, got %v", fields)
	}
}

func TestParseRejectsUnroutable(t *testing.T) {
	for _, raw := range []string{`"oops"`, `null`, `[1,2]`, `{"roomId":7}`, ``} {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
	if _, err := Parse([]byte(`42`)); !errors.Is(err, ErrNotObject) {
		t.Errorf("expected ErrNotObject, got %v", err)
	}
}

func TestParseWithoutRoomID(t *testing.T) {
	s, err := Parse([]byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.RoomID != "" {
		t.Errorf("expected empty room id, got %q", s.RoomID)
	}
	if string(s.Replay()) != `{"x":1}` {
		t.Errorf("expected replay unchanged, got %s", s.Replay())
	}
}
