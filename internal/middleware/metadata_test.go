package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestMetadata(t *testing.T) {
	var got Metadata
	handler := RequestMetadata()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = MetadataFromContext(r.Context())
	}))

	req := httptest.NewRequest("POST", "/checkout-sessions", nil)
	req.Header.Set(HeaderUCPAgent, `profile="https://agent.example/profile"`)
	req.Header.Set(HeaderRequestSignature, "sig")
	req.Header.Set(HeaderIdempotencyKey, " idem-1 ")
	req.Header.Set(HeaderRequestID, "req-1")
	req.Header.Set(HeaderAPIKey, "key-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	want := Metadata{
		UCPAgent:         `profile="https://agent.example/profile"`,
		RequestSignature: "sig",
		IdempotencyKey:   "idem-1",
		RequestID:        "req-1",
		APIKey:           "key-1",
	}
	if got != want {
		t.Errorf("metadata = %+v, want %+v", got, want)
	}
	if w.Header().Get(HeaderRequestID) != "req-1" {
		t.Errorf("Request-Id echo = %q", w.Header().Get(HeaderRequestID))
	}
}

func TestRequestMetadata_GeneratesRequestID(t *testing.T) {
	var got Metadata
	handler := RequestMetadata()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = MetadataFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if got.RequestID == "" {
		t.Fatal("request id should be generated")
	}
	if w.Header().Get(HeaderRequestID) != got.RequestID {
		t.Errorf("echoed id = %q, want %q", w.Header().Get(HeaderRequestID), got.RequestID)
	}
}

func TestMetadataFromContext_Empty(t *testing.T) {
	if md := MetadataFromContext(context.Background()); md != (Metadata{}) {
		t.Errorf("metadata = %+v, want zero", md)
	}
}
