package handlers_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/whatsapp-ai/wabot/internal/chat"
	"github.com/whatsapp-ai/wabot/internal/config"
	"github.com/whatsapp-ai/wabot/internal/handlers"
	"github.com/whatsapp-ai/wabot/internal/session"
	"github.com/whatsapp-ai/wabot/test/fixtures/payloads"
	"github.com/whatsapp-ai/wabot/test/testutil"
)

func TestWebhookVerify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mode       string
		token      string
		challenge  string
		wantStatus int
		wantBody   string
	}{
		{"valid handshake", "subscribe", testVerifyToken, "1158201444", fasthttp.StatusOK, "1158201444"},
		{"missing challenge", "subscribe", testVerifyToken, "", fasthttp.StatusBadRequest, "Missing required parameters"},
		{"missing token", "subscribe", "", "abc", fasthttp.StatusBadRequest, "Missing required parameters"},
		{"wrong mode", "unsubscribe", testVerifyToken, "abc", fasthttp.StatusForbidden, "Invalid mode"},
		{"wrong token", "subscribe", "VERIFY-ME", "abc", fasthttp.StatusForbidden, "Token mismatch"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)

			req := testutil.NewGETRequest(t)
			testutil.SetQueryParam(req, "hub.mode", tt.mode)
			testutil.SetQueryParam(req, "hub.verify_token", tt.token)
			testutil.SetQueryParam(req, "hub.challenge", tt.challenge)

			require.NoError(t, env.app.WebhookVerify(req))
			assert.Equal(t, tt.wantStatus, testutil.GetResponseStatusCode(req))
			assert.Equal(t, tt.wantBody, string(testutil.GetResponseBody(req)))
			assert.Contains(t, string(req.RequestCtx.Response.Header.ContentType()), "text/plain")
		})
	}
}

func TestWebhookHandler_Rejects(t *testing.T) {
	t.Parallel()

	body := payloads.TextMessage(authorizedFrom, "hi")

	tests := []struct {
		name        string
		contentType string
		body        []byte
		signature   string
		wantStatus  int
		wantBody    string
	}{
		{"wrong content type", "text/plain", body, "", fasthttp.StatusBadRequest, "Invalid content type"},
		{"bad signature", "application/json", body, "sha256=deadbeef", fasthttp.StatusUnauthorized, "Invalid signature"},
		{"not json", "application/json", []byte("nope"), "", fasthttp.StatusBadRequest, "Invalid body"},
		{"foreign object", "application/json", payloads.New().WithObject("page").WithText(authorizedFrom, "hi").Build(), "", fasthttp.StatusUnauthorized, "Not a WhatsApp message"},
		{"empty entry", "application/json", payloads.EmptyEntry(), "", fasthttp.StatusUnauthorized, "Invalid entry structure"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)

			req := testutil.NewRawRequest(t, "POST", tt.contentType, tt.body)
			if tt.signature != "" {
				testutil.SetHeader(req, "X-Hub-Signature-256", tt.signature)
			}
			require.NoError(t, env.app.WebhookHandler(req))
			env.app.Wait()

			assert.Equal(t, tt.wantStatus, testutil.GetResponseStatusCode(req))
			assert.Equal(t, tt.wantBody, string(testutil.GetResponseBody(req)))
			assert.Zero(t, env.messenger.MessageCount())
			assert.Zero(t, env.gen.CallCount())
		})
	}
}

func TestWebhookHandler_RepliesToAuthorizedText(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	body := payloads.New().
		WithContact(authorizedFrom, "Ada").
		WithTextID(authorizedFrom, "wamid.in-1", "Hi bot").
		Build()
	req := env.postWebhook(t, body)

	assert.Equal(t, fasthttp.StatusOK, testutil.GetResponseStatusCode(req))
	assert.Equal(t, "OK", string(testutil.GetResponseBody(req)))

	sent := env.messenger.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, authorizedPhone, sent[0].PhoneNumber)
	assert.Equal(t, aiReply, sent[0].Text)
	assert.Equal(t, []string{"wamid.in-1"}, env.messenger.Reads())
	assert.Contains(t, env.messenger.TypingCalls, "wamid.in-1")

	call, ok := env.gen.LastCall()
	require.True(t, ok)
	assert.Equal(t, "Hi bot", call.UserText)
	assert.Equal(t, "User: Hi bot", call.History)

	msgs := env.history(t, authorizedPhone)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hi bot", msgs[0].Content)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, aiReply, msgs[1].Content)
}

func TestWebhookHandler_HistoryCarriesOver(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.postWebhook(t, payloads.New().WithTextID(authorizedFrom, "wamid.h1", "first").Build())
	env.postWebhook(t, payloads.New().WithTextID(authorizedFrom, "wamid.h2", "second").Build())

	call, ok := env.gen.LastCall()
	require.True(t, ok)
	assert.Equal(t, "User: first\nAI: "+aiReply+"\nUser: second", call.History)
	assert.Len(t, env.history(t, authorizedPhone), 4)
}

func TestWebhookHandler_Unauthorized(t *testing.T) {
	t.Parallel()

	t.Run("notifies sender", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		env.postWebhook(t, payloads.New().WithTextID(strangerFrom, "wamid.x", "hello").Build())

		sent := env.messenger.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "+"+strangerFrom, sent[0].PhoneNumber)
		assert.Equal(t, handlers.UnauthorizedMessage, sent[0].Text)
		assert.Equal(t, []string{"wamid.x"}, env.messenger.Reads())
		assert.Zero(t, env.gen.CallCount())
		assert.Empty(t, env.history(t, "+"+strangerFrom))
	})

	t.Run("silent when disabled", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, func(c *config.Config) { c.Chat.NotifyUnauthorized = false })
		env.postWebhook(t, payloads.TextMessage(strangerFrom, "hello"))

		assert.Zero(t, env.messenger.MessageCount())
		assert.Empty(t, env.messenger.Reads())
		assert.Zero(t, env.gen.CallCount())
	})

	t.Run("allow all", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, func(c *config.Config) { c.Chat.AllowAll = true })
		env.postWebhook(t, payloads.TextMessage(strangerFrom, "hello"))

		assert.Equal(t, 1, env.gen.CallCount())
	})
}

func TestWebhookHandler_SkipsDuplicates(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	body := payloads.New().WithTextID(authorizedFrom, "wamid.dup", "once").Build()
	env.postWebhook(t, body)
	env.postWebhook(t, body)

	assert.Equal(t, 1, env.gen.CallCount())
	assert.Equal(t, 1, env.messenger.MessageCount())
	assert.Len(t, env.history(t, authorizedPhone), 2)
}

func TestWebhookHandler_SkipsNonText(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := env.postWebhook(t, payloads.New().WithImage(authorizedFrom).Build())
	assert.Equal(t, "OK", string(testutil.GetResponseBody(req)))
	assert.Zero(t, env.gen.CallCount())
	assert.Zero(t, env.messenger.MessageCount())
}

func TestWebhookHandler_OtherFieldsIgnored(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.postWebhook(t, payloads.New().WithField("account_update").WithText(authorizedFrom, "hi").Build())
	assert.Zero(t, env.gen.CallCount())
}

func TestWebhookHandler_ProcessesEveryMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *config.Config) { c.Chat.AllowAll = true })

	env.postWebhook(t, payloads.New().
		WithText(authorizedFrom, "one").
		WithText(strangerFrom, "two").
		Build())

	assert.Equal(t, 2, env.gen.CallCount())
	assert.Len(t, env.messenger.GetMessagesSentTo(authorizedPhone), 1)
	assert.Len(t, env.messenger.GetMessagesSentTo("+"+strangerFrom), 1)
}

func TestWebhookHandler_BatchKeepsOrder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.gen.GenerateFunc = func(_ context.Context, userText, _ string) string {
		if userText == "one" {
			time.Sleep(50 * time.Millisecond)
		}
		return "re:" + userText
	}

	env.postWebhook(t, payloads.New().
		WithTextID(authorizedFrom, "wamid.b1", "one").
		WithTextID(authorizedFrom, "wamid.b2", "two").
		Build())

	var got []string
	for _, m := range env.history(t, authorizedPhone) {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"one", "re:one", "two", "re:two"}, got)

	sent := env.messenger.GetMessagesSentTo(authorizedPhone)
	require.Len(t, sent, 2)
	assert.Equal(t, "re:one", sent[0].Text)
	assert.Equal(t, "re:two", sent[1].Text)
}

func TestWebhookHandler_ApologizesWhenSendFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.messenger.SendTextFunc = func(_ context.Context, _, text string) (string, error) {
		if text == aiReply {
			return "", errors.New("graph api unavailable")
		}
		return "wamid.apology", nil
	}

	env.postWebhook(t, payloads.TextMessage(authorizedFrom, "hi"))

	sent := env.messenger.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, handlers.ApologyMessage, sent[0].Text)
	assert.Equal(t, authorizedPhone, sent[0].PhoneNumber)
}

func TestWebhookHandler_TypingErrorsDoNotBlockReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		failOn bool
	}{
		{name: "show typing fails", failOn: true},
		{name: "clear typing fails", failOn: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			env.messenger.SetTypingFunc = func(_ context.Context, _ string, typing bool) error {
				if typing == tt.failOn {
					return errors.New("typing unavailable")
				}
				return nil
			}

			env.postWebhook(t, payloads.TextMessage(authorizedFrom, "hi"))

			sent := env.messenger.GetMessagesSentTo(authorizedPhone)
			require.Len(t, sent, 1)
			assert.Equal(t, aiReply, sent[0].Text)
			assert.Len(t, env.history(t, authorizedPhone), 2)
		})
	}
}

func TestWebhookHandler_RateLimited(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *config.Config) { c.Chat.RateLimitPerMinute = 1 })

	env.postWebhook(t, payloads.New().WithTextID(authorizedFrom, "wamid.r1", "one").Build())
	env.postWebhook(t, payloads.New().WithTextID(authorizedFrom, "wamid.r2", "two").Build())

	assert.Equal(t, 1, env.gen.CallCount())
	assert.Len(t, env.history(t, authorizedPhone), 2)
}

func TestWebhookHandler_SignUp(t *testing.T) {
	t.Parallel()

	t.Run("new number gets a code and a reply", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, withAuth)
		env.postWebhook(t, payloads.TextMessage(authorizedFrom, "hi"))

		sent := env.messenger.Sent()
		require.Len(t, sent, 2)
		assert.True(t, strings.HasPrefix(sent[0].Text, "Your OTP is "+testCode))
		assert.Contains(t, sent[0].Text, "https://bot.example.com/api/auth/verify?")
		assert.Equal(t, aiReply, sent[1].Text)
	})

	t.Run("known number is not asked again", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, withAuth)
		ctx := testutil.TestContext(t)
		require.NoError(t, env.app.Sessions.Put(ctx, session.NewUser(authorizedPhone, session.RoleUser, time.Now())))

		env.postWebhook(t, payloads.TextMessage(authorizedFrom, "hi"))

		sent := env.messenger.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, aiReply, sent[0].Text)
	})
}
