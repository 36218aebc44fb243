// Package redact masks file contents and other large binary payloads in
// values destined for diagnostic logs, keeping their structure intact.
package redact

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// MinBase64Length is the trimmed length a plain string must exceed
	// before it is considered base64 payload.
	MinBase64Length = 50
	// MinBufferBase64Length applies to fields that are known to carry raw
	// buffers, where shorter payloads are still masked.
	MinBufferBase64Length = 20
	// MinAlnumRatio is the share of alphanumeric characters a base64
	// candidate must reach.
	MinAlnumRatio = 0.8
)

// payloadFields hold raw payloads; the value is true for buffer-like fields.
var payloadFields = map[string]bool{
	"buffer":      true,
	"file_base64": true,
	"mediaUri":    false,
	"output":      false,
	"output_text": false,
}

// wellKnownErrorFields are always kept on errors, redacted like any other value.
var wellKnownErrorFields = []string{"response", "request", "data", "body", "config", "cause"}

// Redact returns a copy of v with binary buffers and base64-looking strings
// replaced by length-tagged placeholders. The input is never modified.
func Redact(v Value) Value {
	switch t := v.(type) {
	case nil:
		return nil
	case String:
		return String(redactString(string(t), MinBase64Length))
	case Bytes:
		return String(bufferPlaceholder(len(t)))
	case Scalar:
		return t
	case List:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = Redact(item)
		}
		return out
	case *Map:
		return redactMap(t)
	case *Error:
		return redactError(t)
	default:
		return v
	}
}

// Any redacts an arbitrary Go value and returns the result as a Value, which
// marshals to JSON with the original key order where it was known.
func Any(x any) Value {
	return Redact(FromAny(x))
}

// JSON redacts a raw JSON document and re-serializes it. Input that is not
// JSON is treated as a string.
func JSON(raw []byte) string {
	v, err := ParseJSON(raw)
	if err != nil {
		return redactString(string(raw), MinBase64Length)
	}
	out, err := json.Marshal(Redact(v))
	if err != nil {
		return fmt.Sprintf("[unserializable: %v]", err)
	}
	return string(out)
}

func redactMap(m *Map) *Map {
	if m == nil {
		return nil
	}
	out := NewMap()
	for _, k := range m.keys {
		out.Set(k, redactField(k, m.values[k]))
	}
	return out
}

func redactField(key string, v Value) Value {
	bufferLike, payload := payloadFields[key]
	if !payload {
		return Redact(v)
	}
	s, ok := v.(String)
	if !ok {
		return Redact(v)
	}
	if parsed, ok := parseStructured(string(s)); ok {
		if out, err := json.Marshal(Redact(parsed)); err == nil {
			return String(out)
		}
	}
	threshold := MinBase64Length
	if bufferLike {
		threshold = MinBufferBase64Length
	}
	return String(redactString(string(s), threshold))
}

// parseStructured accepts only JSON objects and arrays; bare JSON scalars
// such as a quoted string are left to the string heuristics.
func parseStructured(s string) (Value, bool) {
	t := strings.TrimSpace(s)
	if t == "" || (t[0] != '{' && t[0] != '[') {
		return nil, false
	}
	v, err := ParseJSON([]byte(t))
	if err != nil {
		return nil, false
	}
	return v, true
}

func redactError(e *Error) *Error {
	if e == nil {
		return nil
	}
	out := &Error{
		Name:    e.Name,
		Message: e.Message,
		Stack:   e.Stack,
		Fields:  NewMap(),
	}
	if e.Fields == nil {
		return out
	}
	for _, k := range wellKnownErrorFields {
		if v, ok := e.Fields.Get(k); ok {
			out.Fields.Set(k, Redact(v))
		}
	}
	for _, k := range e.Fields.keys {
		if _, done := out.Fields.Get(k); done {
			continue
		}
		out.Fields.Set(k, redactField(k, e.Fields.values[k]))
	}
	return out
}

func redactString(s string, threshold int) string {
	if prefix, payload, ok := splitDataURI(s); ok {
		if len(payload) > threshold {
			return prefix + base64Placeholder(len(payload))
		}
		return s
	}
	if LooksLikeBase64(s, threshold) {
		return base64Placeholder(len(strings.TrimSpace(s)))
	}
	return s
}

// splitDataURI splits "data:<mime>;base64,<payload>" into the part up to and
// including the comma and the payload.
func splitDataURI(s string) (string, string, bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", "", false
	}
	idx := strings.Index(s, ";base64,")
	if idx < 0 {
		return "", "", false
	}
	cut := idx + len(";base64,")
	return s[:cut], s[cut:], true
}

// LooksLikeBase64 reports whether s, once trimmed, is longer than minLen,
// uses only base64 alphabet characters and is at least MinAlnumRatio
// alphanumeric.
func LooksLikeBase64(s string, minLen int) bool {
	t := strings.TrimSpace(s)
	if len(t) <= minLen {
		return false
	}
	alnum := 0
	for i := 0; i < len(t); i++ {
		c := t[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			alnum++
		case c == '+', c == '/', c == '=':
		default:
			return false
		}
	}
	return float64(alnum)/float64(len(t)) >= MinAlnumRatio
}

func base64Placeholder(n int) string {
	return fmt.Sprintf("[base64: %d chars]", n)
}

func bufferPlaceholder(n int) string {
	return fmt.Sprintf("[Buffer: %d bytes]", n)
}
