package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Request metadata headers. None of them is verified or enforced;
// they are carried for logging and correlation.
const (
	HeaderUCPAgent         = "UCP-Agent"
	HeaderRequestSignature = "Request-Signature"
	HeaderIdempotencyKey   = "Idempotency-Key"
	HeaderRequestID        = "Request-Id"
	HeaderAPIKey           = "X-API-Key"
)

// Metadata is the opaque per-request metadata a caller may send.
type Metadata struct {
	UCPAgent         string
	RequestSignature string
	IdempotencyKey   string
	RequestID        string
	APIKey           string
}

type metadataKey struct{}

// RequestMetadata extracts the metadata headers into the request context.
// A missing Request-Id is generated; the id is echoed on the response.
func RequestMetadata() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			md := Metadata{
				UCPAgent:         strings.TrimSpace(r.Header.Get(HeaderUCPAgent)),
				RequestSignature: strings.TrimSpace(r.Header.Get(HeaderRequestSignature)),
				IdempotencyKey:   strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
				RequestID:        strings.TrimSpace(r.Header.Get(HeaderRequestID)),
				APIKey:           strings.TrimSpace(r.Header.Get(HeaderAPIKey)),
			}
			if md.RequestID == "" {
				md.RequestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, md.RequestID)

			next.ServeHTTP(w, r.WithContext(WithMetadata(r.Context(), md)))
		})
	}
}

// WithMetadata stores md in ctx.
func WithMetadata(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

// MetadataFromContext returns the request metadata, or the zero value.
func MetadataFromContext(ctx context.Context) Metadata {
	md, _ := ctx.Value(metadataKey{}).(Metadata)
	return md
}
