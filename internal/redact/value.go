package redact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Value is a tagged variant over the shapes the redactor understands.
// Implementations: String, Bytes, List, *Map, *Error and Scalar.
type Value interface {
	isValue()
}

type String string

type Bytes []byte

type List []Value

// Map is an object with insertion-ordered keys.
type Map struct {
	keys   []string
	values map[string]Value
}

// Error is the structural form of an error value.
type Error struct {
	Name    string
	Message string
	Stack   string
	Fields  *Map
}

// Scalar holds numbers, booleans and null.
type Scalar struct {
	V any
}

func (String) isValue() {}
func (Bytes) isValue()  {}
func (List) isValue()   {}
func (*Map) isValue()   {}
func (*Error) isValue() {}
func (Scalar) isValue() {}

func NewMap() *Map {
	return &Map{values: make(map[string]Value)}
}

// Set adds or replaces key, keeping the original position of existing keys.
func (m *Map) Set(key string, v Value) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Map) Len() int { return len(m.keys) }

func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *Error) MarshalJSON() ([]byte, error) {
	m := NewMap()
	m.Set("name", String(e.Name))
	m.Set("message", String(e.Message))
	if e.Stack != "" {
		m.Set("stack", String(e.Stack))
	}
	if e.Fields != nil {
		for _, k := range e.Fields.keys {
			m.Set(k, e.Fields.values[k])
		}
	}
	return m.MarshalJSON()
}

func (l List) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		vb, err := marshalValue(v)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.V)
}

func marshalValue(v Value) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// DiagnosticFields is implemented by errors that carry extra context worth
// logging, such as the HTTP response body of a failed request.
type DiagnosticFields interface {
	DiagnosticFields() map[string]any
}

type stackTracer interface {
	Stack() string
}

// FromAny converts a Go value into a Value. Structs and other unknown types
// go through a JSON round trip; values that cannot be encoded become their
// fmt representation.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Scalar{}
	case Value:
		return t
	case string:
		return String(t)
	case json.RawMessage:
		if v, err := ParseJSON(t); err == nil {
			return v
		}
		return Bytes(t)
	case []byte:
		return Bytes(t)
	case error:
		return fromError(t)
	case bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return Scalar{V: t}
	case []any:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = FromAny(item)
		}
		return out
	case []string:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = String(item)
		}
		return out
	case map[string]any:
		m := NewMap()
		for _, k := range sortedKeys(t) {
			m.Set(k, FromAny(t[k]))
		}
		return m
	case map[string]string:
		m := NewMap()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m.Set(k, String(t[k]))
		}
		return m
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return String(fmt.Sprint(t))
		}
		v, err := ParseJSON(raw)
		if err != nil {
			return String(fmt.Sprint(t))
		}
		return v
	}
}

func fromError(err error) *Error {
	e := &Error{
		Name:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Fields:  NewMap(),
	}
	if st, ok := err.(stackTracer); ok {
		e.Stack = st.Stack()
	}
	if df, ok := err.(DiagnosticFields); ok {
		fields := df.DiagnosticFields()
		for _, k := range sortedKeys(fields) {
			e.Fields.Set(k, FromAny(fields[k]))
		}
	}
	if cause := errors.Unwrap(err); cause != nil {
		if _, ok := e.Fields.Get("cause"); !ok {
			e.Fields.Set("cause", fromError(cause))
		}
	}
	return e
}

// ToAny converts a Value back into plain Go values. Object key order is
// lost; marshal the Value itself when order matters.
func ToAny(v Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case String:
		return string(t)
	case Bytes:
		return []byte(t)
	case Scalar:
		return t.V
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToAny(item)
		}
		return out
	case *Map:
		out := make(map[string]any, len(t.keys))
		for _, k := range t.keys {
			out[k] = ToAny(t.values[k])
		}
		return out
	case *Error:
		out := map[string]any{"name": t.Name, "message": t.Message}
		if t.Stack != "" {
			out["stack"] = t.Stack
		}
		if t.Fields != nil {
			for _, k := range t.Fields.keys {
				out[k] = ToAny(t.Fields.values[k])
			}
		}
		return out
	default:
		return nil
	}
}

// ParseJSON decodes raw JSON into a Value, preserving object key order.
func ParseJSON(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := NewMap()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", kt)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				m.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return m, nil
		case '[':
			list := List{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", t)
		}
	case string:
		return String(t), nil
	default:
		return Scalar{V: t}, nil
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
