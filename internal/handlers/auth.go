package handlers

import (
	"errors"

	"github.com/valyala/fasthttp"
	"github.com/whatsapp-ai/wabot/internal/auth"
	"github.com/zerodha/fastglue"
)

// VerifyOTP is the target of the link sent with a sign-up code. Browsers get
// a plain greeting; the dashboard asks for format=json to receive the token.
func (a *App) VerifyOTP(r *fastglue.Request) error {
	args := r.RequestCtx.QueryArgs()
	phoneNumber := string(args.Peek("phoneNumber"))
	code := string(args.Peek("code"))
	wantJSON := string(args.Peek("format")) == "json"

	if phoneNumber == "" || code == "" {
		return sendText(r, fasthttp.StatusBadRequest, "Bad Request")
	}
	if a.Auth == nil {
		return sendText(r, fasthttp.StatusNotFound, "Sign-up is disabled")
	}

	res, err := a.Auth.Verify(r.RequestCtx, phoneNumber, code)
	if err != nil {
		status, msg := verifyFailure(err)
		if status == fasthttp.StatusInternalServerError {
			a.Log.Error("OTP verification failed", "error", err)
		}
		if wantJSON {
			return r.SendErrorEnvelope(status, msg, nil, "")
		}
		return sendText(r, status, msg)
	}

	a.Log.Info("Phone number verified", "phone", res.User.PhoneNumber, "created", res.Created)
	if wantJSON {
		return r.SendEnvelope(res)
	}
	return sendText(r, fasthttp.StatusOK, "Welcome to WhatsApp AI")
}

func verifyFailure(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidPhone):
		return fasthttp.StatusBadRequest, "Invalid phone number"
	case errors.Is(err, auth.ErrInvalidCode):
		return fasthttp.StatusUnauthorized, "Invalid code"
	case errors.Is(err, auth.ErrCodeExpired):
		return fasthttp.StatusUnauthorized, "Code expired or not requested"
	case errors.Is(err, auth.ErrTooManyAttempts):
		return fasthttp.StatusTooManyRequests, "Too many attempts"
	case errors.Is(err, auth.ErrNotConfigured):
		return fasthttp.StatusServiceUnavailable, "Sign-up is not configured"
	default:
		return fasthttp.StatusInternalServerError, "Verification failed"
	}
}
