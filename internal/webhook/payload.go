package webhook

// ObjectWhatsAppBusiness is the "object" discriminator of WhatsApp events.
const ObjectWhatsAppBusiness = "whatsapp_business_account"

// FieldMessages is the change field carrying inbound messages and statuses.
const FieldMessages = "messages"

// Payload is a validated WhatsApp Cloud API webhook event.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is an inbound message. Only text messages carry Text.
type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// Status is a delivery receipt for a message the bot sent.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// IsText reports whether the message is a text message with a body.
func (m Message) IsText() bool {
	return m.Type == "text" && m.Text != nil
}

// Body returns the text body or "".
func (m Message) Body() string {
	if m.Text == nil {
		return ""
	}
	return m.Text.Body
}

// InboundMessage is a text message flattened out of its envelope.
type InboundMessage struct {
	Message
	ProfileName   string
	PhoneNumberID string
}

// TextMessages returns every text message in changes with field "messages",
// in payload order. Other message types are returned separately so callers
// can log them.
func (p *Payload) TextMessages() (text []InboundMessage, skipped []Message) {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != FieldMessages {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				if !msg.IsText() {
					skipped = append(skipped, msg)
					continue
				}
				text = append(text, InboundMessage{
					Message:       msg,
					ProfileName:   names[msg.From],
					PhoneNumberID: change.Value.Metadata.PhoneNumberID,
				})
			}
		}
	}
	return text, skipped
}
