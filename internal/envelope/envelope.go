// Package envelope defines the JSON message unit exchanged between the
// controller and the peer, its base64 wire codec, and the typed message
// variants selected by the "t" tag.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Wire keys that are always present.
const (
	KeyID   = "C4X"
	KeyType = "t"
)

// Envelope is one protocol message. ID may be empty for unsolicited
// notifications. Fields holds the type-dependent payload keyed by its short
// wire name, each value kept as compact JSON.
type Envelope struct {
	ID     string
	Type   string
	Fields map[string]json.RawMessage
}

// New starts an envelope with no payload.
func New(id, typ string) Envelope {
	return Envelope{ID: id, Type: typ}
}

// With returns a copy of e with key set to the JSON encoding of v.
// Values that cannot be marshaled are skipped.
func (e Envelope) With(key string, v any) Envelope {
	raw, err := json.Marshal(v)
	if err != nil {
		return e
	}
	fields := make(map[string]json.RawMessage, len(e.Fields)+1)
	for k, val := range e.Fields {
		fields[k] = val
	}
	fields[key] = raw
	e.Fields = fields
	return e
}

// Has reports whether key is present.
func (e Envelope) Has(key string) bool {
	_, ok := e.Fields[key]
	return ok
}

// String returns the field as text. Strings are unquoted; numbers and
// booleans are returned in their JSON form. Missing or null fields report false.
func (e Envelope) String(key string) (string, bool) {
	raw, ok := e.Fields[key]
	if !ok {
		return "", false
	}
	return scalarText(raw)
}

// Int returns the field as an integer. Numeric strings are accepted.
func (e Envelope) Int(key string) (int, bool) {
	s, ok := e.String(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if ferr != nil {
			return 0, false
		}
		return int(f), true
	}
	return n, true
}

// Bool returns the field as a boolean. "true"/"false" strings are accepted.
func (e Envelope) Bool(key string) (bool, bool) {
	s, ok := e.String(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, false
	}
	return b, true
}

// Strings returns an array field as text items.
func (e Envelope) Strings(key string) ([]string, bool) {
	raw, ok := e.Fields[key]
	if !ok {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := scalarText(item)
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out, true
}

// MarshalJSON writes compact JSON with the id and type first and the payload
// keys after them in sorted order.
func (e Envelope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeMember(&buf, KeyID, mustString(e.ID))
	buf.WriteByte(',')
	writeMember(&buf, KeyType, mustString(e.Type))

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		if k == KeyID || k == KeyType {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var compact bytes.Buffer
		if err := json.Compact(&compact, e.Fields[k]); err != nil {
			return nil, fmt.Errorf("envelope: field %q: %w", k, err)
		}
		buf.WriteByte(',')
		writeMember(&buf, k, compact.Bytes())
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts any object carrying both the id key and a string
// type key. The id may be any scalar; non-string ids keep their JSON text.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	rawID, ok := obj[KeyID]
	if !ok {
		return fmt.Errorf("%w: missing %s", ErrNotMessage, KeyID)
	}
	rawType, ok := obj[KeyType]
	if !ok {
		return fmt.Errorf("%w: missing %s", ErrNotMessage, KeyType)
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return fmt.Errorf("%w: %s is not a string", ErrNotMessage, KeyType)
	}
	id, _ := scalarText(rawID)

	delete(obj, KeyID)
	delete(obj, KeyType)
	var fields map[string]json.RawMessage
	if len(obj) > 0 {
		fields = make(map[string]json.RawMessage, len(obj))
		for k, v := range obj {
			var compact bytes.Buffer
			if err := json.Compact(&compact, v); err != nil {
				return err
			}
			fields[k] = compact.Bytes()
		}
	}
	*e = Envelope{ID: id, Type: typ, Fields: fields}
	return nil
}

func scalarText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[':
		return "", false
	default:
		return string(raw), true
	}
}

func writeMember(buf *bytes.Buffer, key string, value []byte) {
	buf.Write(mustString(key))
	buf.WriteByte(':')
	buf.Write(value)
}

func mustString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}
