package handlers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/whatsapp-ai/wabot/internal/kv"
	"github.com/whatsapp-ai/wabot/test/testutil"
)

type downStore struct {
	kv.Store
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := testutil.NewGETRequest(t)
	require.NoError(t, env.app.HealthCheck(req))

	var resp map[string]string
	testutil.ParseEnvelopeResponse(t, req, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "WhatsApp AI Chatbot is running", resp["message"])
	assert.Equal(t, "v22.0", resp["version"])
	assert.NotEmpty(t, resp["timestamp"])
}

func TestReadyCheck(t *testing.T) {
	t.Parallel()

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)

		req := testutil.NewGETRequest(t)
		require.NoError(t, env.app.ReadyCheck(req))

		var resp map[string]string
		testutil.ParseEnvelopeResponse(t, req, &resp)
		assert.Equal(t, "ready", resp["status"])
		assert.Equal(t, "memory", resp["storage"])
	})

	t.Run("storage down", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		env.app.KV = downStore{Store: env.store}

		req := testutil.NewGETRequest(t)
		require.NoError(t, env.app.ReadyCheck(req))
		testutil.AssertErrorResponse(t, req, fasthttp.StatusServiceUnavailable, "Storage not ready")
	})
}
