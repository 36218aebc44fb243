package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"openbridge/internal/domain"
)

// ErrStructuredOutput marks text that does not satisfy the structured reply
// contract. The turn falls back to plain text when it is returned.
var ErrStructuredOutput = errors.New("invalid structured output")

// StructuredReply is the six-field reply the model produces in structured mode.
type StructuredReply struct {
	Text        string                      `json:"text"`
	Buttons     []domain.Button             `json:"buttons"`
	Media       []domain.Media              `json:"media"`
	Attachments []domain.OutboundAttachment `json:"attachments"`
	Cards       []domain.Card               `json:"cards"`
	Intent      string                      `json:"intent"`
}

var structuredFields = []string{"text", "buttons", "media", "attachments", "cards", "intent"}

// parseStructuredReply decodes content as a StructuredReply. All six fields
// must be present; unknown fields are rejected.
func parseStructuredReply(content string) (*StructuredReply, error) {
	content = stripCodeFence(strings.TrimSpace(content))
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrStructuredOutput)
	}

	raw, err := decodeObject(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStructuredOutput, err)
	}
	for _, f := range structuredFields {
		if _, ok := raw[f]; !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrStructuredOutput, f)
		}
	}
	if len(raw) != len(structuredFields) {
		return nil, fmt.Errorf("%w: unexpected extra fields", ErrStructuredOutput)
	}

	var reply StructuredReply
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&reply); err != nil {
		content = sanitizeJSONEscapes(content)
		dec = json.NewDecoder(strings.NewReader(content))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&reply); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStructuredOutput, err)
		}
	}
	return &reply, nil
}

// decodeObject requires content to be exactly one JSON object.
func decodeObject(content string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		if err2 := json.Unmarshal([]byte(sanitizeJSONEscapes(content)), &raw); err2 != nil {
			return nil, err
		}
	}
	if raw == nil {
		return nil, errors.New("not a JSON object")
	}
	return raw, nil
}

// stripCodeFence removes a surrounding markdown code fence, which some models
// add even when asked for bare JSON.
func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) >= 3 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return content
}

// sanitizeJSONEscapes fixes invalid JSON escape sequences produced by some models.
// Valid JSON escapes: \", \\, \/, \b, \f, \n, \r, \t, \uXXXX.
// Invalid ones (e.g. \% or \Y) are corrected by dropping the backslash.
func sanitizeJSONEscapes(s string) string {
	var buf bytes.Buffer
	buf.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString && ch == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				buf.WriteByte(ch)
				buf.WriteByte(s[i+1])
				i++
			}
			continue
		}
		if ch == '"' {
			inString = !inString
		}
		buf.WriteByte(ch)
	}
	return buf.String()
}

// toOutbound maps a parsed reply onto the outbound message. Tool-produced
// attachments replace the model's when there are any.
func (r *StructuredReply) toOutbound(toolAttachments []domain.OutboundAttachment) *domain.OutboundMessage {
	msg := &domain.OutboundMessage{
		Sender:      domain.SenderBot,
		Text:        r.Text,
		Buttons:     r.Buttons,
		Media:       r.Media,
		Attachments: r.Attachments,
		Cards:       r.Cards,
		Intent:      r.Intent,
	}
	if len(toolAttachments) > 0 {
		msg.Attachments = toolAttachments
	}
	return msg
}
