package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whatsapp-ai/wabot/internal/chat"
	"github.com/whatsapp-ai/wabot/internal/config"
	"github.com/whatsapp-ai/wabot/internal/handlers"
	"github.com/whatsapp-ai/wabot/internal/kv"
	"github.com/whatsapp-ai/wabot/internal/webhook"
	"github.com/whatsapp-ai/wabot/test/fixtures/payloads"
	"github.com/whatsapp-ai/wabot/test/testutil"
)

type capturedEvent struct {
	payload   handlers.OutboundEventPayload
	raw       []byte
	signature string
	header    string
	agent     string
}

type eventSink struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (s *eventSink) handler(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var p handlers.OutboundEventPayload
	_ = json.Unmarshal(raw, &p)

	s.mu.Lock()
	s.events = append(s.events, capturedEvent{
		payload:   p,
		raw:       raw,
		signature: r.Header.Get(handlers.EventSignatureHeader),
		header:    r.Header.Get("X-Tenant"),
		agent:     r.Header.Get("User-Agent"),
	})
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *eventSink) byType(event string) []capturedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []capturedEvent
	for _, e := range s.events {
		if e.payload.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func TestNewEventDispatcher_Disabled(t *testing.T) {
	t.Parallel()

	d := handlers.NewEventDispatcher(config.EventsConfig{}, testutil.NopLogger())
	assert.Nil(t, d)

	// A nil dispatcher drops events silently
	d.Dispatch(handlers.EventMessageSent, nil)
	d.Wait()
}

func TestEventDispatcher_Delivers(t *testing.T) {
	t.Parallel()

	sink := &eventSink{}
	srv := httptest.NewServer(http.HandlerFunc(sink.handler))
	t.Cleanup(srv.Close)

	d := handlers.NewEventDispatcher(config.EventsConfig{
		URL:     srv.URL,
		Secret:  "events-secret",
		Headers: map[string]string{"X-Tenant": "acme"},
	}, testutil.NopLogger())
	require.NotNil(t, d)

	d.Dispatch(handlers.EventOTPSent, handlers.OTPEventData{PhoneNumber: authorizedPhone})
	d.Wait()

	got := sink.byType(handlers.EventOTPSent)
	require.Len(t, got, 1)
	assert.Equal(t, webhook.Sign("events-secret", got[0].raw), got[0].signature)
	assert.Equal(t, "acme", got[0].header)
	assert.Equal(t, "WhatsApp-AI-Events/1.0", got[0].agent)
	assert.WithinDuration(t, time.Now(), got[0].payload.Timestamp, time.Minute)

	data, ok := got[0].payload.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, authorizedPhone, data["phone_number"])
}

func TestEventDispatcher_Retries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		failures     int32
		wantRequests int32
	}{
		{"succeeds after one failure", 1, 2},
		{"succeeds on last attempt", 2, 3},
		{"gives up", 10, 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var requests atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if requests.Add(1) <= tt.failures {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			t.Cleanup(srv.Close)

			d := handlers.NewEventDispatcher(config.EventsConfig{URL: srv.URL}, testutil.NopLogger())
			d.RetryDelay = time.Millisecond

			d.Dispatch(handlers.EventMessageSent, handlers.MessageEventData{PhoneNumber: authorizedPhone})
			d.Wait()

			assert.Equal(t, tt.wantRequests, requests.Load())
		})
	}
}

func TestEventError(t *testing.T) {
	t.Parallel()

	err := &handlers.EventError{StatusCode: http.StatusServiceUnavailable}
	assert.Equal(t, "event endpoint returned non-2xx status: Service Unavailable", err.Error())
}

func TestWebhookHandler_DispatchesEvents(t *testing.T) {
	t.Parallel()

	sink := &eventSink{}
	srv := httptest.NewServer(http.HandlerFunc(sink.handler))
	t.Cleanup(srv.Close)

	env := newTestEnv(t)
	env.app.Events = handlers.NewEventDispatcher(config.EventsConfig{URL: srv.URL}, testutil.NopLogger())

	env.postWebhook(t, payloads.New().
		WithContact(authorizedFrom, "Ada").
		WithTextID(authorizedFrom, "wamid.ev-1", "Hi").
		Build())

	incoming := sink.byType(handlers.EventMessageIncoming)
	require.Len(t, incoming, 1)
	in := incoming[0].payload.Data.(map[string]any)
	assert.Equal(t, "wamid.ev-1", in["whatsapp_message_id"])
	assert.Equal(t, "Ada", in["profile_name"])
	assert.Equal(t, "incoming", in["direction"])

	sent := sink.byType(handlers.EventMessageSent)
	require.Len(t, sent, 1)
	out := sent[0].payload.Data.(map[string]any)
	assert.Equal(t, aiReply, out["content"])
	assert.Equal(t, "ai", out["source"])
	assert.Equal(t, "outgoing", out["direction"])
}

// readOnlyKV rejects every write so message storage fails.
type readOnlyKV struct {
	kv.Store
}

func (readOnlyKV) Put(context.Context, string, string, time.Duration) error {
	return errors.New("storage is read-only")
}

func TestAdminSend_EventWhenStoreFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		broken   bool
		wantID   bool
		wantSave bool
	}{
		{name: "stored", broken: false, wantID: true, wantSave: true},
		{name: "store failed", broken: true, wantID: false, wantSave: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sink := &eventSink{}
			srv := httptest.NewServer(http.HandlerFunc(sink.handler))
			t.Cleanup(srv.Close)

			env := newTestEnv(t)
			env.app.Events = handlers.NewEventDispatcher(config.EventsConfig{URL: srv.URL}, testutil.NopLogger())
			if tt.broken {
				env.app.Chat = chat.NewStore(readOnlyKV{env.store}, testutil.NopLogger())
			}

			req := testutil.NewJSONRequest(t, handlers.SendRequest{PhoneNumber: authorizedPhone, Message: "Maintenance tonight"})
			require.NoError(t, env.app.AdminSend(req))
			env.app.Wait()

			var resp struct {
				Stored bool `json:"stored"`
			}
			testutil.ParseEnvelopeResponse(t, req, &resp)
			assert.Equal(t, tt.wantSave, resp.Stored)

			sent := sink.byType(handlers.EventMessageSent)
			require.Len(t, sent, 1)
			data := sent[0].payload.Data.(map[string]any)
			assert.Equal(t, "wamid.mock-1", data["whatsapp_message_id"])
			assert.Equal(t, "admin", data["source"])
			id, ok := data["message_id"]
			assert.Equal(t, tt.wantID, ok)
			if tt.wantID {
				assert.NotEmpty(t, id)
			}
		})
	}
}
