package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Document is a JSON value carried through the server without a fixed schema:
// platform profiles, handler configs, payment instruments.
// The raw bytes are kept so key order and unknown fields survive a round trip.
type Document json.RawMessage

// NewDocument marshals v into a Document.
func NewDocument(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return Document(b), nil
}

// ParseDocument validates data as a JSON object and returns it as a Document.
func ParseDocument(data []byte) (Document, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, errors.New("document is not valid JSON")
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, errors.New("document must be a JSON object")
	}
	return Document(bytes.Clone(data)), nil
}

// MarshalJSON emits the stored bytes. An unset Document encodes as {}.
func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("{}"), nil
	}
	return d, nil
}

// UnmarshalJSON stores a copy of data. JSON null leaves the Document unset.
func (d *Document) UnmarshalJSON(data []byte) error {
	if d == nil {
		return errors.New("model.Document: UnmarshalJSON on nil pointer")
	}
	if string(bytes.TrimSpace(data)) == "null" {
		*d = nil
		return nil
	}
	*d = append((*d)[:0], data...)
	return nil
}

// IsEmpty reports whether the document is unset, null, or an empty object.
func (d Document) IsEmpty() bool {
	switch string(bytes.TrimSpace(d)) {
	case "", "null", "{}":
		return true
	}
	return false
}

// IsObject reports whether the document holds a JSON object.
func (d Document) IsObject() bool {
	t := bytes.TrimSpace(d)
	return len(t) > 0 && t[0] == '{'
}

// Lookup returns the raw value stored under a top-level key.
func (d Document) Lookup(key string) (json.RawMessage, bool) {
	if !d.IsObject() {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(d, &fields); err != nil {
		return nil, false
	}
	v, ok := fields[key]
	return v, ok
}

// LookupPath walks nested objects, e.g. LookupPath("ucp", "capabilities").
func (d Document) LookupPath(keys ...string) (json.RawMessage, bool) {
	cur := d
	for i, k := range keys {
		v, ok := cur.Lookup(k)
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			return v, true
		}
		cur = Document(v)
	}
	return nil, false
}

// String returns a top-level string field.
func (d Document) String(key string) (string, bool) {
	raw, ok := d.Lookup(key)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Clone returns an independent copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(bytes.Clone(d))
}
