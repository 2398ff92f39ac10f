package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDocument_RoundTripPreservesKeyOrder(t *testing.T) {
	in := `{"payment_data":{"zeta":1,"alpha":{"b":2,"a":1},"id":"pd_1"}}`

	var req CheckoutCompleteRequest
	if err := json.Unmarshal([]byte(in), &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	out, err := json.Marshal(req.PaymentData)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"zeta":1,"alpha":{"b":2,"a":1},"id":"pd_1"}`
	if string(out) != want {
		t.Errorf("round trip = %s, want %s", out, want)
	}
}

func TestDocument_Null(t *testing.T) {
	var req CheckoutCompleteRequest
	if err := json.Unmarshal([]byte(`{"payment_data":null}`), &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if req.PaymentData != nil {
		t.Errorf("PaymentData = %s, want nil", req.PaymentData)
	}
}

func TestDocument_Lookup(t *testing.T) {
	doc := Document(`{"id":"inst_1","count":3,"ucp":{"capabilities":[{"name":"a","version":"1"}]}}`)

	if id, ok := doc.String("id"); !ok || id != "inst_1" {
		t.Errorf("String(id) = %q, %v", id, ok)
	}
	if _, ok := doc.String("count"); ok {
		t.Error("String(count) should fail for a number")
	}
	if _, ok := doc.String("missing"); ok {
		t.Error("String(missing) should fail")
	}
	raw, ok := doc.LookupPath("ucp", "capabilities")
	if !ok {
		t.Fatal("LookupPath(ucp, capabilities) not found")
	}
	if !strings.HasPrefix(string(raw), "[") {
		t.Errorf("capabilities = %s, want an array", raw)
	}
	if _, ok := doc.LookupPath("ucp", "services"); ok {
		t.Error("LookupPath(ucp, services) should fail")
	}
	if _, ok := Document(`[1,2]`).Lookup("id"); ok {
		t.Error("Lookup on an array should fail")
	}
}

func TestDocument_IsEmpty(t *testing.T) {
	tests := []struct {
		doc  Document
		want bool
	}{
		{nil, true},
		{Document(`null`), true},
		{Document(`{}`), true},
		{Document(` {} `), true},
		{Document(`{"a":1}`), false},
	}
	for _, tt := range tests {
		if got := tt.doc.IsEmpty(); got != tt.want {
			t.Errorf("Document(%q).IsEmpty() = %v, want %v", tt.doc, got, tt.want)
		}
	}
}

func TestParseDocument(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"object", `{"ucp":{}}`, false},
		{"padded object", "  {\"a\":1}\n", false},
		{"array", `[1]`, true},
		{"string", `"x"`, true},
		{"invalid", `{"a":`, true},
		{"empty", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDocument(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestDocument_UnsetMarshalsAsEmptyObject(t *testing.T) {
	out, err := json.Marshal(struct {
		D Document `json:"d"`
	}{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `{"d":{}}` {
		t.Errorf("Marshal = %s", out)
	}
}
