// Package handlers holds the HTTP handlers and the inbound message pipeline.
package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/whatsapp-ai/wabot/internal/ai"
	"github.com/whatsapp-ai/wabot/internal/auth"
	"github.com/whatsapp-ai/wabot/internal/chat"
	"github.com/whatsapp-ai/wabot/internal/config"
	"github.com/whatsapp-ai/wabot/internal/kv"
	"github.com/whatsapp-ai/wabot/internal/phone"
	"github.com/whatsapp-ai/wabot/internal/ratelimit"
	"github.com/whatsapp-ai/wabot/internal/session"
	"github.com/whatsapp-ai/wabot/internal/webhook"
	"github.com/whatsapp-ai/wabot/internal/websocket"
	"github.com/zerodha/fastglue"
	"github.com/zerodha/logf"
)

// Messenger is the subset of the WhatsApp Cloud API the bot needs.
type Messenger interface {
	SendText(ctx context.Context, phoneNumber, text string) (string, error)
	MarkRead(ctx context.Context, messageID string) error
	SetTyping(ctx context.Context, messageID string, typing bool) error
}

// App holds all dependencies for handlers
type App struct {
	Config    *config.Config
	Log       logf.Logger
	KV        kv.Store
	Chat      *chat.Store
	Sessions  *session.Store
	Auth      *auth.Service // nil when OTP sign-up is disabled
	Verifier  *webhook.Verifier
	Messenger Messenger
	AI        ai.Generator
	WSHub     *websocket.Hub
	Events    *EventDispatcher
	Allow     *phone.AllowList
	Limiter   *ratelimit.PerKey

	wg sync.WaitGroup
}

// goTracked runs fn on a goroutine that Wait waits for.
func (a *App) goTracked(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.Log.Error("Recovered from panic in background task", "error", r)
			}
		}()
		fn()
	}()
}

// Wait blocks until in-flight message processing and event deliveries finish.
func (a *App) Wait() {
	a.wg.Wait()
	a.Events.Wait()
}

func (a *App) processTimeout() time.Duration {
	if a.Config.Chat.ProcessTimeout > 0 {
		return time.Duration(a.Config.Chat.ProcessTimeout) * time.Second
	}
	return 60 * time.Second
}

// HealthCheck reports that the process is up.
func (a *App) HealthCheck(r *fastglue.Request) error {
	return r.SendEnvelope(map[string]any{
		"status":    "ok",
		"message":   "WhatsApp AI Chatbot is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   a.Config.WhatsApp.APIVersion,
	})
}

// ReadyCheck reports whether the storage backend is reachable.
func (a *App) ReadyCheck(r *fastglue.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := kv.Ping(ctx, a.KV); err != nil {
		a.Log.Error("Storage not ready", "error", err)
		return r.SendErrorEnvelope(fasthttp.StatusServiceUnavailable, "Storage not ready", nil, "")
	}
	return r.SendEnvelope(map[string]string{"status": "ready", "storage": a.Config.Storage.Backend})
}
