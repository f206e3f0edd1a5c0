package whatsapp

import "errors"

// ErrNotConfigured is returned when the account lacks a phone number id or
// an access token.
var ErrNotConfigured = errors.New("whatsapp: account not configured")

// Account holds the Cloud API credentials of one business phone number.
type Account struct {
	PhoneID     string
	BusinessID  string
	APIVersion  string
	AccessToken string
}

// IsConfigured reports whether messages can be sent from the account.
func (a *Account) IsConfigured() bool {
	return a != nil && a.PhoneID != "" && a.AccessToken != ""
}

// MetaAPIResponse is the body returned by the messages endpoint.
type MetaAPIResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Success bool `json:"success,omitempty"`
}

// MetaAPIError is the error envelope of the Graph API.
type MetaAPIError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		ErrorUserMsg string `json:"error_user_msg"`
		ErrorData    struct {
			Details string `json:"details"`
		} `json:"error_data"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}
