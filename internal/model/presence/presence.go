package presence

import (
	"encoding/json"
	"time"
)

// Participant is one entry in the server roster. ConnectionID is assigned
// by the transport at connect time and is not stable across reconnects.
type Participant struct {
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Event names carried in the websocket envelope.
const (
	EventWelcome     = "welcome"
	EventUserJoin    = "user:join"
	EventUsersUpdate = "users:update"
	EventChatMessage = "chat:message"
)

// Envelope is the wire frame exchanged over the websocket in both
// directions.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope marshals payload into an Envelope stamped with the current
// time.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: event, Data: data, Timestamp: time.Now().UnixMilli()}, nil
}

// Welcome is the first frame the server sends on a new connection. It
// carries the transport-level id the client announces under.
type Welcome struct {
	ConnectionID string `json:"connectionId"`
}

// ChatMessage is the pass-through chat payload. The server broadcasts it
// verbatim once presence is established.
type ChatMessage struct {
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	Content      string    `json:"content"`
	SentAt       time.Time `json:"sentAt"`
}
