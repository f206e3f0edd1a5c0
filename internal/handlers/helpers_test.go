package handlers_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/whatsapp-ai/wabot/internal/auth"
	"github.com/whatsapp-ai/wabot/internal/chat"
	"github.com/whatsapp-ai/wabot/internal/config"
	"github.com/whatsapp-ai/wabot/internal/handlers"
	"github.com/whatsapp-ai/wabot/internal/kv"
	"github.com/whatsapp-ai/wabot/internal/phone"
	"github.com/whatsapp-ai/wabot/internal/ratelimit"
	"github.com/whatsapp-ai/wabot/internal/session"
	"github.com/whatsapp-ai/wabot/internal/webhook"
	"github.com/whatsapp-ai/wabot/test/testutil"
	"github.com/zerodha/fastglue"
)

const (
	testJWTSecret   = "test-secret-key-must-be-at-least-32-chars"
	testVerifyToken = "verify-me"
	testAppSecret   = "app-secret"
	testCode        = "424242"
	aiReply         = "Hello from AI"

	authorizedPhone = "+15551234567"
	authorizedFrom  = "15551234567"
	strangerFrom    = "15550000000"
)

type testEnv struct {
	app       *handlers.App
	store     kv.Store
	messenger *testutil.MockMessenger
	gen       *testutil.MockGenerator
}

// newTestEnv builds an App on the in-memory backend with mock collaborators.
func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.WhatsApp.VerifyToken = testVerifyToken
	cfg.WhatsApp.AppSecret = testAppSecret
	cfg.WhatsApp.APIVersion = "v22.0"
	cfg.Storage.Backend = config.StorageMemory
	cfg.Chat.AuthorizedNumbers = []string{authorizedPhone}
	cfg.Chat.NotifyUnauthorized = true
	cfg.Chat.HistoryLimit = 20
	cfg.Chat.RetentionDays = 30
	cfg.Auth.JWTSecret = testJWTSecret
	cfg.Auth.BaseURL = "https://bot.example.com"
	for _, opt := range opts {
		opt(cfg)
	}

	log := testutil.NopLogger()
	store := kv.NewMemory()
	messenger := testutil.NewMockMessenger()
	gen := testutil.NewMockGenerator(aiReply)
	sessions := session.NewStore(store)

	app := &handlers.App{
		Config:   cfg,
		Log:      log,
		KV:       store,
		Chat:     chat.NewStore(store, log),
		Sessions: sessions,
		Verifier: webhook.NewVerifier(webhook.Config{
			VerifyToken:      cfg.WhatsApp.VerifyToken,
			AppSecret:        cfg.WhatsApp.AppSecret,
			RequireSignature: cfg.WhatsApp.RequireSignature,
		}, log),
		Messenger: messenger,
		AI:        gen,
		Allow:     phone.NewAllowList(cfg.Chat.AuthorizedNumbers, cfg.Chat.AllowAll),
		Limiter:   ratelimit.NewPerMinute(cfg.Chat.RateLimitPerMinute),
	}
	if cfg.Auth.Enabled {
		svc := auth.NewService(auth.Config{
			JWTSecret: cfg.Auth.JWTSecret,
			BaseURL:   cfg.Auth.BaseURL,
		}, store, sessions, messenger, log)
		svc.SetCodeGenerator(func() (string, error) { return testCode, nil })
		app.Auth = svc
	}

	return &testEnv{app: app, store: store, messenger: messenger, gen: gen}
}

func withAuth(cfg *config.Config) { cfg.Auth.Enabled = true }

// postWebhook delivers a signed event and waits for processing to finish.
func (e *testEnv) postWebhook(t *testing.T, body []byte) *fastglue.Request {
	t.Helper()

	req := testutil.NewRawRequest(t, "POST", "application/json", body)
	testutil.SetHeader(req, webhook.SignatureHeader, webhook.Sign(testAppSecret, body))
	require.NoError(t, e.app.WebhookHandler(req))
	e.app.Wait()
	return req
}

func (e *testEnv) history(t *testing.T, p string) []chat.Message {
	t.Helper()
	msgs, err := e.app.Chat.MessagesForAI(testutil.TestContext(t), p, 100)
	require.NoError(t, err)
	return msgs
}
