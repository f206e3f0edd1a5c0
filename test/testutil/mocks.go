package testutil

import (
	"context"
	"fmt"
	"sync"
)

// MockSentMessage records a message sent through the mock messenger.
type MockSentMessage struct {
	PhoneNumber string
	Text        string
	MessageID   string
}

// MockMessenger is a mock of the WhatsApp send operations used by the
// message pipeline and the OTP flow.
type MockMessenger struct {
	mu sync.Mutex

	// Recorded calls
	SentMessages []MockSentMessage
	ReadReceipts []string
	TypingCalls  []string

	// Configurable behavior
	SendTextFunc  func(ctx context.Context, phone, text string) (string, error)
	MarkReadFunc  func(ctx context.Context, messageID string) error
	SetTypingFunc func(ctx context.Context, messageID string, typing bool) error

	// Error to return from SendText (if set, overrides function)
	Error error

	messageCounter int
}

// NewMockMessenger creates a new mock messenger.
func NewMockMessenger() *MockMessenger {
	return &MockMessenger{}
}

// SendText mocks sending a text message.
func (m *MockMessenger) SendText(ctx context.Context, phone, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Error != nil {
		return "", m.Error
	}

	var (
		msgID string
		err   error
	)
	if m.SendTextFunc != nil {
		msgID, err = m.SendTextFunc(ctx, phone, text)
		if err != nil {
			return "", err
		}
	} else {
		m.messageCounter++
		msgID = fmt.Sprintf("wamid.mock-%d", m.messageCounter)
	}

	m.SentMessages = append(m.SentMessages, MockSentMessage{PhoneNumber: phone, Text: text, MessageID: msgID})
	return msgID, nil
}

// MarkRead mocks sending a read receipt.
func (m *MockMessenger) MarkRead(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReadReceipts = append(m.ReadReceipts, messageID)
	if m.MarkReadFunc != nil {
		return m.MarkReadFunc(ctx, messageID)
	}
	return nil
}

// SetTyping mocks the typing indicator.
func (m *MockMessenger) SetTyping(ctx context.Context, messageID string, typing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if typing {
		m.TypingCalls = append(m.TypingCalls, messageID)
	}
	if m.SetTypingFunc != nil {
		return m.SetTypingFunc(ctx, messageID, typing)
	}
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockMessenger) Sent() []MockSentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockSentMessage(nil), m.SentMessages...)
}

// MessageCount returns the number of messages sent.
func (m *MockMessenger) MessageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SentMessages)
}

// GetMessagesSentTo returns all messages sent to a specific phone number.
func (m *MockMessenger) GetMessagesSentTo(phone string) []MockSentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []MockSentMessage
	for _, msg := range m.SentMessages {
		if msg.PhoneNumber == phone {
			result = append(result, msg)
		}
	}
	return result
}

// Reads returns a copy of the recorded read receipts.
func (m *MockMessenger) Reads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ReadReceipts...)
}

// Reset clears all recorded calls.
func (m *MockMessenger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = nil
	m.ReadReceipts = nil
	m.TypingCalls = nil
}

// MockGenerateCall records one reply generation.
type MockGenerateCall struct {
	UserText string
	History  string
}

// MockGenerator is a mock AI reply generator.
type MockGenerator struct {
	mu sync.Mutex

	Calls []MockGenerateCall

	// Reply is returned when GenerateFunc is nil.
	Reply        string
	GenerateFunc func(ctx context.Context, userText, history string) string
}

// NewMockGenerator returns a generator that always answers reply.
func NewMockGenerator(reply string) *MockGenerator {
	return &MockGenerator{Reply: reply}
}

// GenerateResponse mocks reply generation.
func (m *MockGenerator) GenerateResponse(ctx context.Context, userText, history string) string {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockGenerateCall{UserText: userText, History: history})
	fn, reply := m.GenerateFunc, m.Reply
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, userText, history)
	}
	return reply
}

// CallCount returns the number of generations.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent call, if any.
func (m *MockGenerator) LastCall() (MockGenerateCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return MockGenerateCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}
