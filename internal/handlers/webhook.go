package handlers

import (
	"errors"

	"github.com/valyala/fasthttp"
	"github.com/whatsapp-ai/wabot/internal/webhook"
	"github.com/zerodha/fastglue"
)

// WebhookVerify answers the Cloud API subscription handshake by echoing
// hub.challenge.
func (a *App) WebhookVerify(r *fastglue.Request) error {
	args := r.RequestCtx.QueryArgs()
	challenge, err := a.Verifier.ValidateVerificationRequest(
		string(args.Peek("hub.mode")),
		string(args.Peek("hub.verify_token")),
		string(args.Peek("hub.challenge")),
	)
	if err != nil {
		return sendText(r, statusFor(err), err.Error())
	}
	return sendText(r, fasthttp.StatusOK, challenge)
}

// WebhookHandler accepts an event delivery, acknowledges it and processes
// its text messages in the background, one after another. The platform redelivers anything
// that is not acknowledged in time, so the reply is sent before the AI runs.
func (a *App) WebhookHandler(r *fastglue.Request) error {
	payload, err := a.Verifier.ValidateMessagePayload(webhook.PayloadRequest{
		ContentType: string(r.RequestCtx.Request.Header.ContentType()),
		RawBody:     r.RequestCtx.PostBody(),
		Signature:   string(r.RequestCtx.Request.Header.Peek(webhook.SignatureHeader)),
	})
	if err != nil {
		return sendText(r, statusFor(err), err.Error())
	}

	messages, skipped := payload.TextMessages()
	for _, m := range skipped {
		a.Log.Debug("Skipping non-text message", "type", m.Type, "message_id", m.ID)
	}

	// One goroutine per delivery keeps a sender's messages in the order
	// the platform batched them.
	if len(messages) > 0 {
		a.goTracked(func() {
			for _, msg := range messages {
				a.processMessage(msg)
			}
		})
	}

	return sendText(r, fasthttp.StatusOK, "OK")
}

func statusFor(err error) int {
	var ve *webhook.ValidationError
	if errors.As(err, &ve) {
		return ve.HTTPStatus()
	}
	return fasthttp.StatusBadRequest
}

func sendText(r *fastglue.Request, status int, body string) error {
	r.RequestCtx.SetStatusCode(status)
	r.RequestCtx.SetContentType("text/plain; charset=utf-8")
	r.RequestCtx.SetBodyString(body)
	return nil
}
