package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/whatsapp-ai/wabot/internal/chat"
	"github.com/whatsapp-ai/wabot/internal/kv"
	"github.com/whatsapp-ai/wabot/internal/phone"
	"github.com/whatsapp-ai/wabot/internal/webhook"
	"github.com/whatsapp-ai/wabot/internal/websocket"
)

// Replies sent outside the AI flow
const (
	UnauthorizedMessage = "Sorry, but this WhatsApp number is not authorized to use this AI chatbot. Please contact the administrator for access."
	ApologyMessage      = "I apologize, but I encountered an error processing your message. Please try again."
)

const (
	processedPrefix = "processed:"
	processedTTL    = 24 * time.Hour
)

// processMessage runs the full pipeline for one inbound text message.
func (a *App) processMessage(msg webhook.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), a.processTimeout())
	defer cancel()

	from := phone.Normalize(msg.From)
	if from == "" {
		a.Log.Warn("Dropping message without sender", "message_id", msg.ID)
		return
	}

	if !a.Allow.Allowed(from) {
		a.Log.Warn("Rejected message from unauthorized number", "phone", from)
		a.rejectUnauthorized(ctx, from, msg.ID)
		return
	}

	if a.isDuplicate(ctx, msg.ID) {
		a.Log.Info("Skipping duplicate delivery", "message_id", msg.ID, "phone", from)
		return
	}

	if !a.Limiter.Allow(from) {
		a.Log.Warn("Rate limit exceeded, dropping message", "phone", from, "message_id", msg.ID)
		return
	}

	a.ensureSession(ctx, from)

	a.Events.Dispatch(EventMessageIncoming, MessageEventData{
		WhatsAppMessageID: msg.ID,
		PhoneNumber:       from,
		ProfileName:       msg.ProfileName,
		Content:           msg.Body(),
		Direction:         "incoming",
	})

	if err := a.reply(ctx, from, msg); err != nil {
		a.Log.Error("Error processing message", "error", err, "phone", from, "message_id", msg.ID)
		if _, err := a.Messenger.SendText(ctx, from, ApologyMessage); err != nil {
			a.Log.Error("Failed to send apology", "error", err, "phone", from)
		}
		return
	}

	a.Log.Info("Processed message", "phone", from, "preview", preview(msg.Body(), 50))
}

// reply stores the user message, asks the AI and sends its answer.
func (a *App) reply(ctx context.Context, from string, msg webhook.InboundMessage) error {
	userMsg, err := a.Chat.StoreMessage(ctx, from, msg.Body(), true)
	if err != nil {
		return fmt.Errorf("store user message: %w", err)
	}
	a.broadcast(from, userMsg)

	if err := a.Messenger.MarkRead(ctx, msg.ID); err != nil {
		a.Log.Warn("Failed to mark message read", "error", err, "message_id", msg.ID)
	}
	if err := a.Messenger.SetTyping(ctx, msg.ID, true); err != nil {
		a.Log.Warn("Failed to send typing indicator", "error", err, "message_id", msg.ID)
	}

	history, err := a.Chat.ConversationHistoryForAI(ctx, from, a.Config.Chat.HistoryLimit)
	if err != nil {
		a.Log.Warn("Failed to load history, continuing without it", "error", err, "phone", from)
		history = ""
	}

	answer := a.AI.GenerateResponse(ctx, msg.Body(), history)

	aiMsg, err := a.Chat.StoreMessage(ctx, from, answer, false)
	if err != nil {
		return fmt.Errorf("store reply: %w", err)
	}
	a.broadcast(from, aiMsg)

	waID, err := a.Messenger.SendText(ctx, from, answer)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	if err := a.Messenger.SetTyping(ctx, msg.ID, false); err != nil {
		a.Log.Warn("Failed to clear typing indicator", "error", err, "message_id", msg.ID)
	}

	a.Events.Dispatch(EventMessageSent, MessageEventData{
		MessageID:         aiMsg.MessageID,
		WhatsAppMessageID: waID,
		PhoneNumber:       from,
		Content:           answer,
		Direction:         "outgoing",
		Source:            "ai",
	})
	return nil
}

func (a *App) rejectUnauthorized(ctx context.Context, from, messageID string) {
	if !a.Config.Chat.NotifyUnauthorized {
		return
	}
	if err := a.Messenger.MarkRead(ctx, messageID); err != nil {
		a.Log.Warn("Failed to mark message read", "error", err, "message_id", messageID)
	}
	if _, err := a.Messenger.SendText(ctx, from, UnauthorizedMessage); err != nil {
		a.Log.Error("Error sending unauthorized message", "error", err, "phone", from)
		return
	}
	a.Log.Info("Sent unauthorized message", "phone", from)
}

// isDuplicate records messageID and reports whether it was already seen.
// Storage errors let the message through.
func (a *App) isDuplicate(ctx context.Context, messageID string) bool {
	if messageID == "" {
		return false
	}
	key := processedPrefix + messageID
	_, err := a.KV.Get(ctx, key)
	if err == nil {
		return true
	}
	if !errors.Is(err, kv.ErrNotFound) {
		a.Log.Warn("Failed to check delivery", "error", err, "message_id", messageID)
		return false
	}
	if err := a.KV.Put(ctx, key, time.Now().UTC().Format(time.RFC3339), processedTTL); err != nil {
		a.Log.Warn("Failed to record delivery", "error", err, "message_id", messageID)
	}
	return false
}

// ensureSession refreshes the sender's session, or sends a sign-up code
// when there is none. The message is processed either way.
func (a *App) ensureSession(ctx context.Context, from string) {
	if a.Auth == nil || a.Sessions == nil {
		return
	}

	ok, err := a.Sessions.Touch(ctx, from)
	if err != nil {
		a.Log.Warn("Failed to refresh session", "error", err, "phone", from)
		return
	}
	if ok {
		return
	}

	a.Log.Info("No session found, sending sign-up code", "phone", from)
	sent, err := a.Auth.SendOTP(ctx, from)
	if err != nil {
		a.Log.Error("Failed to send sign-up code", "error", err, "phone", from)
		return
	}
	if sent {
		a.Events.Dispatch(EventOTPSent, OTPEventData{PhoneNumber: from})
	}
}

func (a *App) broadcast(from string, m chat.Message) {
	a.WSHub.BroadcastChat(websocket.ChatEvent{
		PhoneNumber: from,
		Role:        string(m.Role),
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		MessageID:   m.MessageID,
	})
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
