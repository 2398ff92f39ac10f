package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"ucp-checkout/internal/metrics"
	"ucp-checkout/internal/model"
)

// InlineProfileField is the request body field that carries a platform profile inline.
const InlineProfileField = "_platform_profile"

// Resolver decides which platform profile applies to a request.
// Order: inline body field, then the UCP-Agent profile URL, then nothing.
// Resolution never fails; fetch problems degrade to an empty profile.
type Resolver struct {
	fetcher ProfileFetcher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewResolver creates a resolver. fetcher may be nil, in which case header
// profiles are never fetched and resolve as degraded.
func NewResolver(fetcher ProfileFetcher, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{fetcher: fetcher, metrics: m, logger: logger}
}

// Resolve picks the profile for a request from its inline document and UCP-Agent header.
func (r *Resolver) Resolve(ctx context.Context, inline model.Document, agentHeader string) *Resolution {
	if inline.IsObject() {
		res := &Resolution{Source: metrics.SourceInline, Profile: inline.Clone()}
		r.metrics.ObserveResolution(res.Source, metrics.OutcomeOK)
		return res
	}

	if strings.TrimSpace(agentHeader) == "" {
		return r.none()
	}

	desc, err := ParseUCPAgentHeader(agentHeader)
	if err != nil {
		r.logger.DebugContext(ctx, "ignoring unparseable UCP-Agent header",
			slog.String("header", agentHeader),
			slog.String("error", err.Error()))
		return r.none()
	}
	return r.ResolveURL(ctx, desc)
}

// ResolveURL fetches the profile a descriptor points at.
// MCP tools call this with the descriptor taken from request meta.
func (r *Resolver) ResolveURL(ctx context.Context, desc AgentDescriptor) *Resolution {
	if desc.ProfileURL == "" {
		return r.none()
	}

	res := &Resolution{
		Source:       metrics.SourceHeader,
		ProfileURL:   desc.ProfileURL,
		AgentVersion: desc.Version,
		Profile:      model.Document("{}"),
	}

	if r.fetcher == nil {
		res.FetchError = errNoFetcher
	} else if profile, err := r.fetcher.Fetch(ctx, desc.ProfileURL); err != nil {
		res.FetchError = err
	} else if profile != nil && profile.Document.IsObject() {
		res.Profile = profile.Document.Clone()
	}

	if res.FetchError != nil {
		r.logger.WarnContext(ctx, "platform profile unavailable, continuing without it",
			slog.String("profile_url", desc.ProfileURL),
			slog.String("error", res.FetchError.Error()))
		r.metrics.ObserveResolution(res.Source, metrics.OutcomeDegraded)
		return res
	}
	r.metrics.ObserveResolution(res.Source, metrics.OutcomeOK)
	return res
}

func (r *Resolver) none() *Resolution {
	r.metrics.ObserveResolution(metrics.SourceNone, metrics.OutcomeOK)
	return &Resolution{Source: metrics.SourceNone, Profile: model.Document("{}")}
}

var errNoFetcher = errors.New("profile fetching is disabled")

// InlineProfile returns the _platform_profile object of a JSON request body.
// Anything other than an object under that key is treated as absent.
func InlineProfile(body []byte) model.Document {
	if len(body) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil
	}
	doc := model.Document(fields[InlineProfileField])
	if !doc.IsObject() {
		return nil
	}
	return doc
}
