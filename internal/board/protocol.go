package board

import (
	"encoding/json"
	"fmt"
)

// Event names exchanged with clients.
const (
	EventSetUsername = "setUsername"
	EventUpdateUsers = "updateUsers"
	EventInit        = "init"
	EventDraw        = "draw"
	EventClearCanvas = "clearCanvas"
	EventUpdatePen   = "updatePen"
)

// Envelope is the JSON structure of every WebSocket frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AnnouncePayload is sent by a client to enter a room.
type AnnouncePayload struct {
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

// PenPayload is sent by a client when its color or pen size changes. Color
// and Size are kept as sent and echoed back in user lists.
type PenPayload struct {
	Color  json.RawMessage `json:"color"`
	Size   json.RawMessage `json:"size"`
	RoomID string          `json:"roomId"`
}

// Encode builds a frame for event. A nil payload produces a frame without
// one.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Type: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Payload = data
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return data, nil
}
