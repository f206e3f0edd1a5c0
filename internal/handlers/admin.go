package handlers

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/whatsapp-ai/wabot/internal/chat"
	"github.com/whatsapp-ai/wabot/internal/phone"
	"github.com/zerodha/fastglue"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxMessageLength    = 4096
)

// SendRequest is the body of POST /api/admin/send
type SendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

// ConversationSummary is one row of GET /api/admin/conversations
type ConversationSummary struct {
	PhoneNumber          string    `json:"phoneNumber"`
	TotalMessages        int       `json:"totalMessages"`
	LastMessageTimestamp time.Time `json:"lastMessageTimestamp"`
}

// AdminSend sends a message to a phone number as the bot and records it in
// the conversation.
func (a *App) AdminSend(r *fastglue.Request) error {
	var req SendRequest
	if err := json.Unmarshal(r.RequestCtx.PostBody(), &req); err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid request body", nil, "")
	}

	p := phone.Normalize(req.PhoneNumber)
	text := strings.TrimSpace(req.Message)
	switch {
	case p == "":
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "phoneNumber is required", nil, "")
	case text == "":
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "message is required", nil, "")
	case len(text) > maxMessageLength:
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "message is too long", nil, "")
	}

	waID, err := a.Messenger.SendText(r.RequestCtx, p, text)
	if err != nil {
		a.Log.Error("Failed to send admin message", "error", err, "phone", p)
		return r.SendErrorEnvelope(fasthttp.StatusBadGateway, "Failed to send message", nil, "")
	}

	var storedID string
	stored, err := a.Chat.StoreMessage(r.RequestCtx, p, text, false)
	if err != nil {
		// Already delivered; report the send but flag the gap
		a.Log.Error("Failed to store admin message", "error", err, "phone", p)
	} else {
		storedID = stored.MessageID
		a.broadcast(p, stored)
	}

	a.Events.Dispatch(EventMessageSent, MessageEventData{
		MessageID:         storedID,
		WhatsAppMessageID: waID,
		PhoneNumber:       p,
		Content:           text,
		Direction:         "outgoing",
		Source:            "admin",
	})

	return r.SendEnvelope(map[string]any{
		"messageId":   waID,
		"phoneNumber": p,
		"stored":      err == nil,
	})
}

// AdminStats returns message counts for one phone number.
func (a *App) AdminStats(r *fastglue.Request) error {
	p, ok := phoneParam(r)
	if !ok {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid phone number", nil, "")
	}

	stats, err := a.Chat.Stats(r.RequestCtx, p)
	if err != nil {
		a.Log.Error("Failed to load stats", "error", err, "phone", p)
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Failed to load stats", nil, "")
	}
	return r.SendEnvelope(stats)
}

// AdminHistory returns the most recent messages, oldest first.
func (a *App) AdminHistory(r *fastglue.Request) error {
	p, ok := phoneParam(r)
	if !ok {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid phone number", nil, "")
	}

	limit := defaultHistoryLimit
	if raw := string(r.RequestCtx.QueryArgs().Peek("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid limit", nil, "")
		}
		limit = min(n, maxHistoryLimit)
	}

	msgs, err := a.Chat.MessagesForAI(r.RequestCtx, p, limit)
	if err != nil {
		a.Log.Error("Failed to load history", "error", err, "phone", p)
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Failed to load history", nil, "")
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}

	return r.SendEnvelope(map[string]any{
		"phoneNumber": p,
		"messages":    msgs,
		"count":       len(msgs),
	})
}

// AdminDeleteHistory removes every stored message for a phone number.
func (a *App) AdminDeleteHistory(r *fastglue.Request) error {
	p, ok := phoneParam(r)
	if !ok {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid phone number", nil, "")
	}

	if err := a.Chat.DeleteAllMessages(r.RequestCtx, p); err != nil {
		a.Log.Error("Failed to delete history", "error", err, "phone", p)
		return r.SendEnvelope(map[string]any{"phoneNumber": p, "deleted": false})
	}

	a.Log.Info("Deleted chat history", "phone", p)
	return r.SendEnvelope(map[string]any{"phoneNumber": p, "deleted": true})
}

// AdminPruneHistory drops messages older than ?days= (default
// chat.retention_days).
func (a *App) AdminPruneHistory(r *fastglue.Request) error {
	p, ok := phoneParam(r)
	if !ok {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid phone number", nil, "")
	}

	days := a.Config.Chat.RetentionDays
	if raw := string(r.RequestCtx.QueryArgs().Peek("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid days", nil, "")
		}
		days = n
	}

	removed, err := a.Chat.DeleteOldMessages(r.RequestCtx, p, days)
	if err != nil {
		a.Log.Error("Failed to prune history", "error", err, "phone", p)
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Failed to prune history", nil, "")
	}

	return r.SendEnvelope(map[string]any{"phoneNumber": p, "days": days, "removed": removed})
}

// AdminConversations lists every phone number with history, most recent
// first.
func (a *App) AdminConversations(r *fastglue.Request) error {
	numbers, err := a.Chat.PhoneNumbers(r.RequestCtx)
	if err != nil {
		a.Log.Error("Failed to list conversations", "error", err)
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Failed to list conversations", nil, "")
	}

	out := make([]ConversationSummary, 0, len(numbers))
	for _, p := range numbers {
		meta, err := a.Chat.Metadata(r.RequestCtx, p)
		if err != nil {
			a.Log.Warn("Failed to load conversation", "error", err, "phone", p)
			continue
		}
		if meta == nil {
			continue
		}
		out = append(out, ConversationSummary{
			PhoneNumber:          meta.PhoneNumber,
			TotalMessages:        meta.TotalMessages,
			LastMessageTimestamp: meta.LastMessageTimestamp,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageTimestamp.After(out[j].LastMessageTimestamp)
	})

	return r.SendEnvelope(map[string]any{
		"conversations": out,
		"total":         len(out),
	})
}

func phoneParam(r *fastglue.Request) (string, bool) {
	raw, _ := r.RequestCtx.UserValue("phone").(string)
	p := phone.Normalize(raw)
	return p, p != ""
}
