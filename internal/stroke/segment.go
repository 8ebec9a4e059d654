package stroke

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned by Parse for payloads that are not JSON objects.
var ErrNotObject = errors.New("stroke: segment payload is not an object")

// Segment is one line of a freehand stroke as a client sent it. Only the room
// id is read out of the payload; the payload itself is stored and relayed
// untouched, whatever else it carries.
type Segment struct {
	RoomID  string
	Payload json.RawMessage
}

// Parse reads a segment from a client payload. It fails only when the payload
// is not an object or its roomId is not a string.
func Parse(data []byte) (Segment, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Segment{}, ErrNotObject
	}
	var head struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return Segment{}, fmt.Errorf("stroke: segment room id: %w", err)
	}
	return Segment{
		RoomID:  head.RoomID,
		Payload: append(json.RawMessage(nil), trimmed...),
	}, nil
}

// MarshalJSON implements json.Marshaler by emitting the payload as received.
func (s Segment) MarshalJSON() ([]byte, error) {
	if len(s.Payload) == 0 {
		return []byte("null"), nil
	}
	return s.Payload, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Segment) UnmarshalJSON(data []byte) error {
	seg, err := Parse(data)
	if err != nil {
		return err
	}
	*s = seg
	return nil
}

// Replay returns the payload without its roomId member, the shape sent to a
// client in the init event. Other members keep their encoded values.
func (s Segment) Replay() json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(s.Payload, &fields); err != nil {
		return s.Payload
	}
	if _, ok := fields["roomId"]; !ok {
		return s.Payload
	}
	delete(fields, "roomId")
	out, err := json.Marshal(fields)
	if err != nil {
		return s.Payload
	}
	return out
}
