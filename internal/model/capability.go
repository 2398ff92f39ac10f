package model

import (
	"bytes"
	"encoding/json"
)

// Well-known capability names.
const (
	CapabilityCheckout    = "dev.ucp.shopping.checkout"
	CapabilityFulfillment = "dev.ucp.shopping.fulfillment"
	CapabilityDiscount    = "dev.ucp.shopping.discount"
	CapabilityOrder       = "dev.ucp.shopping.order"
)

// CapabilityRef names a versioned protocol feature.
// A ref parsed from the wire keeps its original JSON and re-emits it unchanged,
// so spec/schema links and unknown keys pass through negotiation untouched.
type CapabilityRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Extends string `json:"extends,omitempty"`

	raw json.RawMessage
}

// NewCapabilityRef builds a ref without wire representation.
func NewCapabilityRef(name, version, extends string) CapabilityRef {
	return CapabilityRef{Name: name, Version: version, Extends: extends}
}

// capabilityShape is the typed projection read from a capability object.
// Extends may be a single parent name or a list; only the first parent is projected.
type capabilityShape struct {
	Name    *string         `json:"name"`
	Version *string         `json:"version"`
	Extends json.RawMessage `json:"extends"`
}

// ParseCapabilityRef reads a capability object. It reports false when the
// value is not an object or lacks a string name and version.
func ParseCapabilityRef(raw []byte) (CapabilityRef, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return CapabilityRef{}, false
	}
	var shape capabilityShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return CapabilityRef{}, false
	}
	if shape.Name == nil || shape.Version == nil || *shape.Name == "" {
		return CapabilityRef{}, false
	}
	return CapabilityRef{
		Name:    *shape.Name,
		Version: *shape.Version,
		Extends: firstParent(shape.Extends),
		raw:     bytes.Clone(raw),
	}, true
}

func firstParent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

// Raw returns the wire form the ref was parsed from, or nil.
func (c CapabilityRef) Raw() json.RawMessage {
	return c.raw
}

// MarshalJSON re-emits the parsed wire form when present.
func (c CapabilityRef) MarshalJSON() ([]byte, error) {
	if len(c.raw) > 0 {
		return c.raw, nil
	}
	type plain CapabilityRef
	return json.Marshal(plain(c))
}

// UnmarshalJSON keeps the wire form and projects what it can.
// Shape problems are not errors here; use ParseCapabilityRef to validate.
func (c *CapabilityRef) UnmarshalJSON(data []byte) error {
	if ref, ok := ParseCapabilityRef(data); ok {
		*c = ref
		return nil
	}
	*c = CapabilityRef{raw: bytes.Clone(data)}
	return nil
}
