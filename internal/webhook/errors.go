package webhook

import (
	"errors"

	"github.com/valyala/fasthttp"
)

// Kind classifies a webhook validation failure.
type Kind int

const (
	MissingParameters Kind = iota + 1
	InvalidMode
	TokenMismatch
	InvalidContentType
	InvalidSignature
	InvalidBody
	NotWhatsAppMessage
	InvalidEntryStructure
)

var kindMessages = map[Kind]string{
	MissingParameters:     "Missing required parameters",
	InvalidMode:           "Invalid mode",
	TokenMismatch:         "Token mismatch",
	InvalidContentType:    "Invalid content type",
	InvalidSignature:      "Invalid signature",
	InvalidBody:           "Invalid body",
	NotWhatsAppMessage:    "Not a WhatsApp message",
	InvalidEntryStructure: "Invalid entry structure",
}

func (k Kind) String() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return "Unknown validation error"
}

// ValidationError is returned for every rejected webhook request.
// Error() is the short reason string sent back to the caller.
type ValidationError struct {
	Kind Kind
}

func (e *ValidationError) Error() string {
	return e.Kind.String()
}

// HTTPStatus maps the failure to the response code expected by the platform:
// a handshake with missing parameters is a 400, any other handshake failure a
// 403; a malformed event is a 400 and an unauthenticated or foreign one a 401.
func (e *ValidationError) HTTPStatus() int {
	switch e.Kind {
	case MissingParameters, InvalidContentType, InvalidBody:
		return fasthttp.StatusBadRequest
	case InvalidMode, TokenMismatch:
		return fasthttp.StatusForbidden
	default:
		return fasthttp.StatusUnauthorized
	}
}

// KindOf extracts the Kind from err, or 0 when err is not a validation error.
func KindOf(err error) Kind {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return 0
}

func fail(k Kind) error {
	return &ValidationError{Kind: k}
}
