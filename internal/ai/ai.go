// Package ai generates chatbot replies through a hosted LLM provider.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/whatsapp-ai/wabot/internal/config"
	"github.com/zerodha/logf"
)

// FallbackReply is returned whenever a reply cannot be generated.
const FallbackReply = "I apologize, but I encountered an error processing your message. Please try again."

// DefaultSystemPrompt is used when ai.system_prompt is empty.
const DefaultSystemPrompt = `You are a helpful AI assistant accessible via WhatsApp. You should:
- Be friendly and conversational
- Provide helpful and accurate information
- Keep responses concise but informative (max 80 words)
- Be respectful and professional
- If you don't know something, admit it rather than making things up
- Respond in a natural, conversational tone`

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 500
	defaultTimeout     = 60 * time.Second
)

var ErrEmptyResponse = errors.New("ai: empty response")

// Generator produces a reply to userText given the formatted history.
// Implementations never fail: they degrade to FallbackReply.
type Generator interface {
	GenerateResponse(ctx context.Context, userText, history string) string
}

// completer sends one prompt to a provider and returns the raw reply.
type completer interface {
	complete(ctx context.Context, req request) (string, error)
	name() string
}

type request struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client is the Generator backed by a provider API.
type Client struct {
	provider     completer
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
	configured   bool
	log          logf.Logger
}

// New builds a Client for the configured provider.
func New(cfg config.AIConfig, log logf.Logger) (*Client, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	var p completer
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		p = &openAI{http: httpClient, baseURL: orDefault(cfg.BaseURL, openAIBaseURL), apiKey: cfg.APIKey}
	case config.ProviderAnthropic:
		p = &anthropic{http: httpClient, baseURL: orDefault(cfg.BaseURL, anthropicBaseURL), apiKey: cfg.APIKey}
	case config.ProviderGoogle:
		p = &google{http: httpClient, baseURL: orDefault(cfg.BaseURL, googleBaseURL), apiKey: cfg.APIKey}
	default:
		return nil, fmt.Errorf("ai: unsupported provider %q", cfg.Provider)
	}

	c := &Client{
		provider:     p,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		temperature:  defaultTemperature,
		maxTokens:    cfg.MaxTokens,
		configured:   cfg.APIKey != "",
		log:          log,
	}
	if strings.TrimSpace(c.systemPrompt) == "" {
		c.systemPrompt = DefaultSystemPrompt
	}
	// Zero is a valid temperature; only an unset or negative one is defaulted
	if cfg.Temperature != nil && *cfg.Temperature >= 0 {
		c.temperature = *cfg.Temperature
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	return c, nil
}

// GenerateResponse asks the provider for a reply.
func (c *Client) GenerateResponse(ctx context.Context, userText, history string) string {
	if !c.configured {
		c.log.Error("AI provider has no API key", "provider", c.provider.name())
		return FallbackReply
	}

	start := time.Now()
	reply, err := c.provider.complete(ctx, request{
		System:      c.systemPrompt,
		Prompt:      BuildPrompt(history, userText),
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		c.log.Error("AI generation failed", "provider", c.provider.name(), "model", c.model, "error", err)
		return FallbackReply
	}

	c.log.Debug("AI reply generated", "provider", c.provider.name(), "duration", time.Since(start).String(), "length", len(reply))
	return strings.TrimSpace(reply)
}

// BuildPrompt renders the user turn sent to the model: the previous
// conversation, if any, followed by the new message.
func BuildPrompt(history, userText string) string {
	var b strings.Builder
	if strings.TrimSpace(history) != "" {
		b.WriteString("Previous conversation context:\n")
		b.WriteString(history)
		b.WriteString("\n\n")
	}
	b.WriteString("User's message: ")
	b.WriteString(userText)
	b.WriteString("\n\nPlease respond in a helpful and conversational manner:")
	return b.String()
}

// orDefault returns def for an empty base URL.
func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSuffix(v, "/")
}
