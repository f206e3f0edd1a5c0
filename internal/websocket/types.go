package websocket

import "time"

// Message types
const (
	TypeChatMessage = "chat_message"
	TypeSetPhone    = "set_phone"
	TypePing        = "ping"
	TypePong        = "pong"
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ChatEvent is broadcast after a message is stored.
type ChatEvent struct {
	PhoneNumber string    `json:"phone_number"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	MessageID   string    `json:"message_id"`
}

// SetPhonePayload narrows a client's feed to one conversation. An empty
// number clears the filter.
type SetPhonePayload struct {
	PhoneNumber string `json:"phone_number"`
}
