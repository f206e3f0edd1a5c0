package handlers

import (
	"context"

	"github.com/whatsapp-ai/wabot/pkg/whatsapp"
)

// WhatsAppMessenger sends through the Cloud API with a fixed business account.
type WhatsAppMessenger struct {
	Client  *whatsapp.Client
	Account *whatsapp.Account
}

func (m *WhatsAppMessenger) SendText(ctx context.Context, phoneNumber, text string) (string, error) {
	return m.Client.SendTextMessage(ctx, m.Account, phoneNumber, text)
}

func (m *WhatsAppMessenger) MarkRead(ctx context.Context, messageID string) error {
	return m.Client.MarkMessageRead(ctx, m.Account, messageID)
}

func (m *WhatsAppMessenger) SetTyping(ctx context.Context, messageID string, typing bool) error {
	return m.Client.SendTypingIndicator(ctx, m.Account, messageID, typing)
}
