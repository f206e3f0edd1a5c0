package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whatsapp-ai/wabot/internal/ai"
	"github.com/whatsapp-ai/wabot/internal/config"
	"github.com/whatsapp-ai/wabot/test/testutil"
)

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		history string
		user    string
		want    string
	}{
		{
			name: "no history",
			user: "hello",
			want: "User's message: hello\n\nPlease respond in a helpful and conversational manner:",
		},
		{
			name:    "with history",
			history: "User: hi\nAI: hello!",
			user:    "how are you?",
			want: "Previous conversation context:\nUser: hi\nAI: hello!\n\n" +
				"User's message: how are you?\n\nPlease respond in a helpful and conversational manner:",
		},
		{
			name:    "whitespace history is ignored",
			history: "  \n",
			user:    "x",
			want:    "User's message: x\n\nPlease respond in a helpful and conversational manner:",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ai.BuildPrompt(tt.history, tt.user))
		})
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	t.Parallel()

	_, err := ai.New(config.AIConfig{Provider: "cohere"}, testutil.NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cohere")
}

func ptr(v float64) *float64 { return &v }

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestGenerateResponse_Providers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		model    string
		handler  func(t *testing.T, w http.ResponseWriter, r *http.Request)
		want     string
	}{
		{
			name:     "openai",
			provider: config.ProviderOpenAI,
			model:    "gpt-4o-mini",
			handler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				body := decodeBody(t, r)
				assert.Equal(t, "gpt-4o-mini", body["model"])
				assert.Equal(t, 0.7, body["temperature"])
				assert.Equal(t, float64(500), body["max_tokens"])
				messages := body["messages"].([]interface{})
				require.Len(t, messages, 2)
				system := messages[0].(map[string]interface{})
				user := messages[1].(map[string]interface{})
				assert.Equal(t, "system", system["role"])
				assert.Equal(t, ai.DefaultSystemPrompt, system["content"])
				assert.Equal(t, "user", user["role"])
				assert.Contains(t, user["content"], "User's message: hello")
				assert.Contains(t, user["content"], "User: earlier")

				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"choices": []map[string]interface{}{
						{"message": map[string]string{"content": "  Hi from OpenAI  "}},
					},
				})
			},
			want: "Hi from OpenAI",
		},
		{
			name:     "anthropic",
			provider: config.ProviderAnthropic,
			model:    "claude-3-5-haiku-latest",
			handler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/messages", r.URL.Path)
				assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
				assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

				body := decodeBody(t, r)
				assert.Equal(t, ai.DefaultSystemPrompt, body["system"])
				messages := body["messages"].([]interface{})
				require.Len(t, messages, 1)

				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"content": []map[string]string{
						{"type": "tool_use", "text": "ignored"},
						{"type": "text", "text": "Hi from Claude"},
					},
				})
			},
			want: "Hi from Claude",
		},
		{
			name:     "google",
			provider: config.ProviderGoogle,
			model:    "gemini-1.5-flash",
			handler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
				assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

				body := decodeBody(t, r)
				gen := body["generationConfig"].(map[string]interface{})
				assert.Equal(t, float64(500), gen["maxOutputTokens"])
				assert.Contains(t, body, "systemInstruction")

				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"candidates": []map[string]interface{}{{
						"content": map[string]interface{}{
							"parts": []map[string]string{{"text": "Hi from Gemini"}},
						},
					}},
				})
			},
			want: "Hi from Gemini",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				tt.handler(t, w, r)
			}))
			defer server.Close()

			gen, err := ai.New(config.AIConfig{
				Provider: tt.provider,
				APIKey:   "test-key",
				Model:    tt.model,
				BaseURL:  server.URL + "/",
			}, testutil.NopLogger())
			require.NoError(t, err)

			got := gen.GenerateResponse(testutil.TestContext(t), "hello", "User: earlier")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateResponse_Fallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			},
		},
		{
			name: "server error without body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
		},
		{
			name: "blank content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tt.handler)
			defer server.Close()

			gen, err := ai.New(config.AIConfig{APIKey: "k", Model: "m", BaseURL: server.URL}, testutil.NopLogger())
			require.NoError(t, err)

			assert.Equal(t, ai.FallbackReply, gen.GenerateResponse(testutil.TestContext(t), "hi", ""))
		})
	}
}

func TestGenerateResponse_NoAPIKey(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	gen, err := ai.New(config.AIConfig{BaseURL: server.URL}, testutil.NopLogger())
	require.NoError(t, err)

	assert.Equal(t, ai.FallbackReply, gen.GenerateResponse(testutil.TestContext(t), "hi", ""))
	assert.Zero(t, calls.Load())
}

func TestGenerateResponse_CancelledContext(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"late"}}]}`))
	}))
	defer server.Close()

	gen, err := ai.New(config.AIConfig{APIKey: "k", BaseURL: server.URL}, testutil.NopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, ai.FallbackReply, gen.GenerateResponse(ctx, "hi", ""))
}

func TestGenerateResponse_CustomSystemPrompt(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		messages := body["messages"].([]interface{})
		system := messages[0].(map[string]interface{})
		assert.True(t, strings.HasPrefix(system["content"].(string), "You are a pirate"))
		assert.Equal(t, 0.2, body["temperature"])
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Arr"}}]}`))
	}))
	defer server.Close()

	gen, err := ai.New(config.AIConfig{
		APIKey:       "k",
		BaseURL:      server.URL,
		SystemPrompt: "You are a pirate.",
		Temperature:  ptr(0.2),
	}, testutil.NopLogger())
	require.NoError(t, err)

	assert.Equal(t, "Arr", gen.GenerateResponse(testutil.TestContext(t), "hi", ""))
}

func TestNew_ZeroTemperature(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, float64(0), body["temperature"])
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	gen, err := ai.New(config.AIConfig{
		APIKey:      "k",
		BaseURL:     server.URL,
		Temperature: ptr(0),
	}, testutil.NopLogger())
	require.NoError(t, err)

	assert.Equal(t, "ok", gen.GenerateResponse(testutil.TestContext(t), "hi", ""))
}
