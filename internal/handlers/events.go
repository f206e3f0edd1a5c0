package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/whatsapp-ai/wabot/internal/config"
	"github.com/whatsapp-ai/wabot/internal/webhook"
	"github.com/zerodha/logf"
)

// Event types
const (
	EventMessageIncoming = "message.incoming"
	EventMessageSent     = "message.sent"
	EventOTPSent         = "otp.sent"
)

// EventSignatureHeader carries the HMAC of the delivered body.
const EventSignatureHeader = "X-Webhook-Signature"

// OutboundEventPayload represents the structure sent to the event endpoint
type OutboundEventPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// MessageEventData represents data for message events
type MessageEventData struct {
	MessageID         string `json:"message_id,omitempty"` // empty until stored
	WhatsAppMessageID string `json:"whatsapp_message_id,omitempty"`
	PhoneNumber       string `json:"phone_number"`
	ProfileName       string `json:"profile_name,omitempty"`
	Content           string `json:"content"`
	Direction         string `json:"direction"`
	Source            string `json:"source,omitempty"`
}

// OTPEventData represents data for otp events
type OTPEventData struct {
	PhoneNumber string `json:"phone_number"`
}

// EventDispatcher POSTs events to a single configured endpoint.
type EventDispatcher struct {
	URL         string
	Secret      string
	Headers     map[string]string
	HTTPClient  *http.Client
	MaxAttempts int
	// RetryDelay is the wait before the second attempt; it doubles after.
	RetryDelay time.Duration
	Log        logf.Logger

	wg sync.WaitGroup
}

// NewEventDispatcher returns nil when no endpoint is configured. A nil
// dispatcher drops every event.
func NewEventDispatcher(cfg config.EventsConfig, log logf.Logger) *EventDispatcher {
	if cfg.URL == "" {
		return nil
	}
	return &EventDispatcher{
		URL:         cfg.URL,
		Secret:      cfg.Secret,
		Headers:     cfg.Headers,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		MaxAttempts: 3,
		RetryDelay:  time.Second,
		Log:         log,
	}
}

// Dispatch delivers an event in the background.
func (d *EventDispatcher) Dispatch(eventType string, data any) {
	if d == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.send(eventType, data)
	}()
}

// Wait blocks until queued deliveries finish.
func (d *EventDispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *EventDispatcher) send(eventType string, data any) {
	payload := OutboundEventPayload{
		Event:     eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		d.Log.Error("failed to marshal event payload", "error", err, "event", eventType)
		return
	}

	delay := d.RetryDelay
	for attempt := 0; attempt < d.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}

		if err := d.post(jsonData); err != nil {
			d.Log.Warn("event delivery failed",
				"error", err,
				"event", eventType,
				"attempt", attempt+1,
				"max_attempts", d.MaxAttempts,
			)
			continue
		}

		d.Log.Debug("event delivered", "event", eventType, "url", d.URL)
		return
	}

	d.Log.Error("event delivery failed after all retries", "event", eventType, "url", d.URL)
}

func (d *EventDispatcher) post(jsonData []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.HTTPClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "WhatsApp-AI-Events/1.0")
	for key, value := range d.Headers {
		req.Header.Set(key, value)
	}
	if d.Secret != "" {
		req.Header.Set(EventSignatureHeader, webhook.Sign(d.Secret, jsonData))
	}

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &EventError{StatusCode: resp.StatusCode}
	}
	return nil
}

// EventError represents an event delivery error
type EventError struct {
	StatusCode int
}

func (e *EventError) Error() string {
	return "event endpoint returned non-2xx status: " + http.StatusText(e.StatusCode)
}
