package handler

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"

	"ucp-checkout/internal/middleware"
	"ucp-checkout/internal/model"
	"ucp-checkout/internal/negotiation"
)

// samplePlatformProfile is served at /profiles/platform.json so local agents
// have a profile URL to put in their UCP-Agent header.
//
//go:embed platform_profile.json
var samplePlatformProfile []byte

// handleWellKnown returns the UCP discovery profile.
// GET /.well-known/ucp
func (h *Handler) handleWellKnown(w http.ResponseWriter, r *http.Request) {
	profile, err := h.adapter.GetProfile(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, profile)
}

// handlePlatformProfile returns the sample platform profile.
// GET /profiles/platform.json
func (h *Handler) handlePlatformProfile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(samplePlatformProfile)
}

// handleNegotiation intersects what a platform declares with the business profile.
// POST /ucp/negotiation
//
// The body is either a full platform profile ({"ucp": {...}, "payment": {...}})
// or just the lists ({"capabilities": [...], "payment_handlers": [...]}).
// An empty body negotiates against the profile resolved from UCP-Agent.
func (h *Handler) handleNegotiation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		h.writeError(w, err)
		return
	}

	platform, err := platformFromBody(raw, negotiation.FromContext(ctx))
	if err != nil {
		h.writeError(w, err)
		return
	}

	negotiator, err := h.negotiatorFor(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result := negotiator.Intersect(platform)
	h.logger.InfoContext(ctx, "negotiated capabilities",
		slog.Int("platform_capabilities", len(platform.Capabilities)),
		slog.Int("capabilities", len(result.Capabilities)),
		slog.Int("payment_handlers", len(result.PaymentHandlers)),
	)

	h.writeJSON(w, http.StatusOK, result)
}

// negotiatorFor returns the configured negotiator, or one built from the
// adapter's current discovery profile.
func (h *Handler) negotiatorFor(ctx context.Context) (*negotiation.Negotiator, error) {
	if h.negotiator != nil {
		return h.negotiator, nil
	}
	profile, err := h.adapter.GetProfile(ctx)
	if err != nil {
		return nil, err
	}
	return negotiation.NewNegotiator(profile), nil
}

// platformFromBody reads a negotiation request body.
func platformFromBody(raw json.RawMessage, res *negotiation.Resolution) (negotiation.Platform, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		if res == nil {
			return negotiation.Platform{}, nil
		}
		return negotiation.PlatformFromProfile(res.Profile, res.AgentVersion), nil
	}

	doc, err := model.ParseDocument(raw)
	if err != nil {
		return negotiation.Platform{}, model.NewValidationError("body", "must be a JSON object")
	}
	if _, ok := doc.Lookup("ucp"); ok {
		return negotiation.PlatformFromProfile(doc, ""), nil
	}

	var p negotiation.Platform
	p.Version, _ = doc.String("version")
	if caps, ok := doc.Lookup("capabilities"); ok && !isNull(caps) {
		if p.Capabilities = negotiation.ParseCapabilities(caps); p.Capabilities == nil {
			return p, model.NewValidationError("capabilities", "must be a list or a registry object")
		}
	}
	if handlers, ok := doc.Lookup("payment_handlers"); ok && !isNull(handlers) {
		if p.PaymentHandlers = negotiation.ParsePaymentHandlers(handlers); p.PaymentHandlers == nil {
			return p, model.NewValidationError("payment_handlers", "must be a list or a registry object")
		}
	}
	return p, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// handlePartnerOrderWebhook acknowledges an order event from a partner.
// POST /webhooks/partners/{partnerId}/events/order
func (h *Handler) handlePartnerOrderWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID := r.PathValue("partnerId")

	var event any
	if err := decodeJSON(w, r, &event); err != nil {
		h.writeError(w, err)
		return
	}

	md := middleware.MetadataFromContext(ctx)
	h.logger.InfoContext(ctx, "received partner order event",
		slog.String("partner_id", partnerID),
		slog.Bool("signed", md.RequestSignature != ""),
	)

	h.writeJSON(w, http.StatusOK, webhookAck{Received: true, PartnerID: partnerID})
}

// handleOrderWebhook acknowledges a legacy order event and echoes its body.
// POST /webhooks/orders
func (h *Handler) handleOrderWebhook(w http.ResponseWriter, r *http.Request) {
	var event any
	if err := decodeJSON(w, r, &event); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "received order event")
	h.writeJSON(w, http.StatusOK, webhookAck{Received: true, Body: event})
}

type webhookAck struct {
	Received  bool   `json:"received"`
	PartnerID string `json:"partner_id,omitempty"`
	Body      any    `json:"body,omitempty"`
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}
