// Package webhook validates WhatsApp Cloud API webhook requests: the GET
// subscription handshake and signed POST event deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/zerodha/logf"
)

const (
	// ModeSubscribe is the only hub.mode accepted during the handshake.
	ModeSubscribe = "subscribe"
	// SignatureHeader carries the HMAC-SHA256 of the raw request body.
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
)

// Config is loaded once at startup and never changes afterwards.
type Config struct {
	VerifyToken string
	AppSecret   string
	// RequireSignature rejects unsigned deliveries when an app secret is set.
	RequireSignature bool
}

// Verifier checks webhook requests against the configured secrets.
type Verifier struct {
	cfg Config
	log logf.Logger
}

// NewVerifier creates a Verifier. cfg is copied.
func NewVerifier(cfg Config, log logf.Logger) *Verifier {
	return &Verifier{cfg: cfg, log: log}
}

// ValidateVerificationRequest checks the subscription handshake and returns
// the challenge to echo back verbatim.
func (v *Verifier) ValidateVerificationRequest(mode, token, challenge string) (string, error) {
	v.log.Debug("Webhook verification attempt",
		"mode", mode,
		"token", redact(token),
		"has_challenge", challenge != "",
		"has_verify_token", v.cfg.VerifyToken != "")

	if v.cfg.VerifyToken == "" || mode == "" || token == "" || challenge == "" {
		v.log.Warn("Webhook verification failed", "reason", MissingParameters.String())
		return "", fail(MissingParameters)
	}
	if mode != ModeSubscribe {
		v.log.Warn("Webhook verification failed", "reason", InvalidMode.String(), "mode", mode)
		return "", fail(InvalidMode)
	}
	if token != v.cfg.VerifyToken {
		v.log.Warn("Webhook verification failed", "reason", TokenMismatch.String())
		return "", fail(TokenMismatch)
	}

	v.log.Info("Webhook verified")
	return challenge, nil
}

// PayloadRequest is an inbound event delivery. RawBody must be the exact
// bytes received; the signature is computed over them, not over a re-encoding.
type PayloadRequest struct {
	ContentType string
	RawBody     []byte
	Signature   string
}

// ValidateMessagePayload authenticates and structurally validates an event
// delivery and returns the decoded payload.
func (v *Verifier) ValidateMessagePayload(req PayloadRequest) (*Payload, error) {
	if !strings.Contains(req.ContentType, "application/json") {
		v.log.Warn("Webhook POST rejected", "reason", InvalidContentType.String(), "content_type", req.ContentType)
		return nil, fail(InvalidContentType)
	}

	if v.cfg.AppSecret != "" {
		switch {
		case req.Signature != "":
			if !v.validSignature(req.RawBody, req.Signature) {
				v.log.Warn("Webhook POST rejected", "reason", InvalidSignature.String())
				return nil, fail(InvalidSignature)
			}
		case v.cfg.RequireSignature:
			v.log.Warn("Webhook POST rejected", "reason", "missing signature")
			return nil, fail(InvalidSignature)
		}
	}

	payload, err := parseStructure(req.RawBody)
	if err != nil {
		v.log.Warn("Webhook POST rejected", "reason", err.Error())
		return nil, err
	}

	v.log.Debug("Webhook POST accepted", "entries", len(payload.Entry))
	return payload, nil
}

func (v *Verifier) validSignature(body []byte, signature string) bool {
	got := strings.TrimPrefix(signature, signaturePrefix)
	want := strings.TrimPrefix(Sign(v.cfg.AppSecret, body), signaturePrefix)
	// hmac.Equal runs in constant time for equal-length inputs
	return hmac.Equal([]byte(got), []byte(want))
}

// parseStructure enforces, in order: the body is a JSON object, its object
// field names WhatsApp, and entry is a non-empty array.
func parseStructure(raw []byte) (*Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fail(InvalidBody)
	}

	var object string
	if err := json.Unmarshal(fields["object"], &object); err != nil || object != ObjectWhatsAppBusiness {
		return nil, fail(NotWhatsAppMessage)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(fields["entry"], &entries); err != nil || len(entries) == 0 {
		return nil, fail(InvalidEntryStructure)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fail(InvalidEntryStructure)
	}
	return &p, nil
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}
