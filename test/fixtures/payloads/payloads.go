// Package payloads provides builders for WhatsApp webhook request bodies.
package payloads

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	// DefaultPhoneNumberID is the business phone id used in built payloads.
	DefaultPhoneNumberID = "106540352242922"
	// DefaultFrom is the sender used when none is set.
	DefaultFrom = "15551234567"
)

type message struct {
	From      string            `json:"from"`
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	Type      string            `json:"type"`
	Text      map[string]string `json:"text,omitempty"`
	Image     map[string]string `json:"image,omitempty"`
}

type contact struct {
	WaID    string            `json:"wa_id"`
	Profile map[string]string `json:"profile"`
}

// Builder provides a fluent interface for creating webhook event bodies.
type Builder struct {
	object   string
	field    string
	messages []message
	contacts []contact
	counter  int
}

// New creates a builder for a WhatsApp event with no messages.
func New() *Builder {
	return &Builder{
		object: "whatsapp_business_account",
		field:  "messages",
	}
}

// WithObject overrides the object discriminator.
func (b *Builder) WithObject(object string) *Builder {
	b.object = object
	return b
}

// WithField overrides the change field.
func (b *Builder) WithField(field string) *Builder {
	b.field = field
	return b
}

// WithText appends a text message.
func (b *Builder) WithText(from, body string) *Builder {
	b.counter++
	b.messages = append(b.messages, message{
		From:      from,
		ID:        fmt.Sprintf("wamid.test-%d", b.counter),
		Timestamp: strconv.FormatInt(time.Now().Unix(), 10),
		Type:      "text",
		Text:      map[string]string{"body": body},
	})
	return b
}

// WithTextID appends a text message with an explicit upstream id.
func (b *Builder) WithTextID(from, id, body string) *Builder {
	b.messages = append(b.messages, message{
		From:      from,
		ID:        id,
		Timestamp: strconv.FormatInt(time.Now().Unix(), 10),
		Type:      "text",
		Text:      map[string]string{"body": body},
	})
	return b
}

// WithImage appends an image message.
func (b *Builder) WithImage(from string) *Builder {
	b.counter++
	b.messages = append(b.messages, message{
		From:      from,
		ID:        fmt.Sprintf("wamid.img-%d", b.counter),
		Timestamp: strconv.FormatInt(time.Now().Unix(), 10),
		Type:      "image",
		Image:     map[string]string{"id": "media-1", "mime_type": "image/jpeg"},
	})
	return b
}

// WithContact adds a profile name for a sender.
func (b *Builder) WithContact(waID, name string) *Builder {
	b.contacts = append(b.contacts, contact{WaID: waID, Profile: map[string]string{"name": name}})
	return b
}

// Build returns the JSON body.
func (b *Builder) Build() []byte {
	body := map[string]any{
		"object": b.object,
		"entry": []map[string]any{{
			"id": "WHATSAPP_BUSINESS_ACCOUNT_ID",
			"changes": []map[string]any{{
				"field": b.field,
				"value": map[string]any{
					"messaging_product": "whatsapp",
					"metadata": map[string]string{
						"display_phone_number": "15550009999",
						"phone_number_id":      DefaultPhoneNumberID,
					},
					"contacts": b.contacts,
					"messages": b.messages,
				},
			}},
		}},
	}
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return data
}

// TextMessage returns a body holding a single text message.
func TextMessage(from, body string) []byte {
	return New().WithText(from, body).Build()
}

// EmptyEntry returns a WhatsApp body whose entry array is empty.
func EmptyEntry() []byte {
	return []byte(`{"object":"whatsapp_business_account","entry":[]}`)
}
