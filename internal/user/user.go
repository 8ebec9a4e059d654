package user

import "encoding/json"

// Pen defaults for a freshly announced user, as encoded JSON values.
var (
	DefaultColor = json.RawMessage(`"#000000"`)
	DefaultSize  = json.RawMessage(`5`)
)

// User is the state the registry keeps for one connection. Color and Size
// hold whatever JSON values the client last sent in updatePen.
type User struct {
	Username string          `json:"username"`
	RoomID   string          `json:"roomId"`
	Color    json.RawMessage `json:"color,omitempty"`
	Size     json.RawMessage `json:"size,omitempty"`

	seq uint64
}
