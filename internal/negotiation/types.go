// Package negotiation resolves the calling platform's profile and intersects
// its capabilities and payment handlers with the business profile.
// REST requests resolve in Middleware before any handler runs.
// MCP tools resolve from meta["ucp-agent"] through the same Resolver.
package negotiation

import (
	"context"
	"time"

	"ucp-checkout/internal/model"
)

// PlatformProfile is a fetched platform profile with cache metadata.
// The document is kept opaque; only capability and handler projections are read.
type PlatformProfile struct {
	Document model.Document

	// Cache metadata, set by the fetcher
	ProfileURL string
	FetchedAt  time.Time
	ExpiresAt  time.Time
}

// Resolution is the platform profile in effect for one request.
// Profile is never nil: an unresolved or failed lookup yields an empty object.
type Resolution struct {
	Source       string // metrics.SourceInline, SourceHeader or SourceNone
	ProfileURL   string
	AgentVersion string
	Profile      model.Document

	// FetchError is set when a header profile could not be fetched and the
	// empty document was used instead. It is logged, never returned to clients.
	FetchError error
}

// Capabilities returns the capabilities the resolved profile declares.
func (r *Resolution) Capabilities() []model.CapabilityRef {
	if r == nil {
		return nil
	}
	return PlatformCapabilities(r.Profile)
}

// Degraded reports whether resolution fell back after a fetch failure.
func (r *Resolution) Degraded() bool {
	return r != nil && r.FetchError != nil
}

type contextKey string

const resolutionKey contextKey = "ucp.resolution"

// WithResolution stores res in ctx.
func WithResolution(ctx context.Context, res *Resolution) context.Context {
	return context.WithValue(ctx, resolutionKey, res)
}

// FromContext returns the resolution stored by Middleware, or nil for exempt paths.
func FromContext(ctx context.Context) *Resolution {
	res, _ := ctx.Value(resolutionKey).(*Resolution)
	return res
}

// UCPVersionUnsupported is the warning code when the platform asks for a newer protocol version.
const UCPVersionUnsupported = "ucp_version_unsupported"
