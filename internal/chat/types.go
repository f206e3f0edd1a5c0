package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label is the speaker prefix used when formatting history for the model.
func (r Role) Label() string {
	if r == RoleUser {
		return "User"
	}
	return "AI"
}

// Message is one conversation turn. Messages are never modified after they
// are stored.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"messageId"`
}

// Chunk is a page of at most MessagesPerChunk messages in insertion order.
type Chunk struct {
	PhoneNumber  string    `json:"phoneNumber"`
	ChunkIndex   int       `json:"chunkIndex"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Metadata summarizes the stored history of one phone number. TotalMessages
// equals the sum of MessageCount over chunks [0, TotalChunks).
type Metadata struct {
	PhoneNumber          string    `json:"phoneNumber"`
	TotalMessages        int       `json:"totalMessages"`
	TotalChunks          int       `json:"totalChunks"`
	LastMessageTimestamp time.Time `json:"lastMessageTimestamp"`
	LastUpdated          time.Time `json:"lastUpdated"`
}

// Stats is the dashboard view of one conversation.
type Stats struct {
	PhoneNumber       string     `json:"phoneNumber"`
	TotalMessages     int        `json:"totalMessages"`
	TotalChunks       int        `json:"totalChunks"`
	UserMessages      int        `json:"userMessages"`
	AssistantMessages int        `json:"assistantMessages"`
	FirstMessageAt    *time.Time `json:"firstMessageAt,omitempty"`
	LastMessageAt     *time.Time `json:"lastMessageAt,omitempty"`
	LastUpdated       *time.Time `json:"lastUpdated,omitempty"`
}
