package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is a single key/value pair of a payload.
type Field struct {
	Key   string
	Value any
}

// Fields is an ordered JSON object. It marshals keys in slice order, which
// makes it the canonical form used for signing.
type Fields []Field

// MarshalJSON writes the fields as a compact JSON object in declaration order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(field.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", field.Key, err)
		}
		v, err := json.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value of %q: %w", field.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// With returns a copy of f with extra appended.
func (f Fields) With(extra ...Field) Fields {
	out := make(Fields, 0, len(f)+len(extra))
	out = append(out, f...)
	return append(out, extra...)
}

// Get returns the value stored under key.
func (f Fields) Get(key string) (any, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return nil, false
}
