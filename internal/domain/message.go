package domain

// Attachment is one file the harness attached to a user turn.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

type InboundMessage struct {
	Text        string
	Attachments []Attachment
}

// SenderBot tags every message the bridge emits.
const SenderBot = "bot"

type Button struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type Media struct {
	MediaURI string `json:"mediaUri"`
	AltText  string `json:"altText"`
	MimeType string `json:"mimeType"`
}

// OutboundAttachment carries a file produced for the harness, base64 encoded.
type OutboundAttachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Base64   string `json:"base64"`
}

type Card struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle"`
	ImageURI string   `json:"imageUri"`
	Buttons  []Button `json:"buttons"`
}

// OutboundMessage is the normalized reply for one turn. Text is set whenever
// any of the structured fields are.
type OutboundMessage struct {
	Sender      string               `json:"sender"`
	Text        string               `json:"messageText"`
	Buttons     []Button             `json:"buttons,omitempty"`
	Media       []Media              `json:"media,omitempty"`
	Attachments []OutboundAttachment `json:"attachments,omitempty"`
	Cards       []Card               `json:"cards,omitempty"`
	Intent      string               `json:"intent,omitempty"`
	SourceData  any                  `json:"sourceData,omitempty"` // redacted raw provider response
}

// HasStructure reports whether any field beyond the text is populated.
func (m *OutboundMessage) HasStructure() bool {
	return len(m.Buttons) > 0 || len(m.Media) > 0 || len(m.Attachments) > 0 ||
		len(m.Cards) > 0 || m.Intent != ""
}
