// Package handler provides HTTP handlers for the UCP checkout API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"ucp-checkout/internal/adapter"
	"ucp-checkout/internal/metrics"
	"ucp-checkout/internal/model"
	"ucp-checkout/internal/negotiation"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	adapter    adapter.Adapter
	negotiator *negotiation.Negotiator
	resolver   *negotiation.Resolver
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a new Handler.
// negotiator, resolver and m may be nil: negotiation then answers with an
// empty intersection, MCP calls skip profile resolution and /metrics is not mounted.
func New(a adapter.Adapter, negotiator *negotiation.Negotiator, resolver *negotiation.Resolver, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		adapter:    a,
		negotiator: negotiator,
		resolver:   resolver,
		metrics:    m,
		logger:     logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Discovery and negotiation
	mux.HandleFunc("GET /.well-known/ucp", h.handleWellKnown)
	mux.HandleFunc("GET /profiles/platform.json", h.handlePlatformProfile)
	mux.HandleFunc("POST /ucp/negotiation", h.handleNegotiation)

	// REST transport - checkout operations
	mux.HandleFunc("POST /checkout-sessions", h.handleCreateCheckout)
	mux.HandleFunc("GET /checkout-sessions/{id}", h.handleGetCheckout)
	mux.HandleFunc("PUT /checkout-sessions/{id}", h.handleUpdateCheckout)
	mux.HandleFunc("POST /checkout-sessions/{id}/mint-instrument", h.handleMintInstrument)
	mux.HandleFunc("POST /checkout-sessions/{id}/complete", h.handleCompleteCheckout)
	mux.HandleFunc("POST /checkout-sessions/{id}/cancel", h.handleCancelCheckout)

	// Compatibility aliases for older agents
	mux.HandleFunc("POST /ucp/checkout", h.handleCreateCheckout)
	mux.HandleFunc("PATCH /ucp/checkout/{id}", h.handleUpdateCheckout)
	mux.HandleFunc("POST /ucp/checkout/{id}/mint_instrument", h.handleMintInstrument)
	mux.HandleFunc("POST /ucp/checkout/{id}/complete", h.handleCompleteCheckout)

	// Order webhooks
	mux.HandleFunc("POST /webhooks/partners/{partnerId}/events/order", h.handlePartnerOrderWebhook)
	mux.HandleFunc("POST /webhooks/orders", h.handleOrderWebhook)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Operations
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// asAPIError extracts the APIError from err's chain, or wraps err as an internal error.
func (h *Handler) asAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	h.logger.Error("internal error", slog.String("error", err.Error()))
	return model.NewInternalError(err)
}

// writeError sends an {"error": {...}} response for non-checkout endpoints.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.asAPIError(err)
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB.
const MaxRequestBodySize = 1 << 20

// writeCheckoutError returns an error shaped as a Checkout with a messages
// array, since agents parse every checkout response as a Checkout.
func (h *Handler) writeCheckoutError(w http.ResponseWriter, checkoutID string, err error) {
	apiErr := h.asAPIError(err)

	checkout := &model.Checkout{
		ID:     checkoutID,
		Status: model.StatusIncomplete,
		Messages: []model.Message{
			model.NewErrorMessage(apiErr.Code, apiErr.Message, mapStatusToSeverity(apiErr.StatusCode)),
		},
		UCP: model.UCPMetadata{
			Version:      model.UCPVersion,
			Capabilities: []model.CapabilityRef{},
		},
		LineItems: []model.LineItem{},
		Totals:    []model.Total{},
		Links:     []model.Link{},
		Payment: model.Payment{
			Handlers:    []model.PaymentHandler{},
			Instruments: []model.Document{},
		},
	}

	h.writeJSON(w, apiErr.StatusCode, checkout)
}

// mapStatusToSeverity converts HTTP status codes to UCP message severity.
func mapStatusToSeverity(statusCode int) model.MessageSeverity {
	switch statusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusTooManyRequests:
		return model.SeverityRecoverable
	default:
		return model.SeverityUnrecoverable
	}
}

// decodeJSON reads JSON from the request body into v.
// An empty body leaves v untouched; every checkout request field is optional.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		// Don't expose decoder details to the client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// logResolution adds the request's platform profile source to a log line.
func logResolution(r *http.Request) slog.Attr {
	res := negotiation.FromContext(r.Context())
	if res == nil {
		return slog.String("profile_source", metrics.SourceNone)
	}
	return slog.Group("profile",
		slog.String("source", res.Source),
		slog.Bool("degraded", res.Degraded()),
	)
}
