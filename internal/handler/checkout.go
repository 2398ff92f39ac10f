package handler

import (
	"log/slog"
	"net/http"

	"ucp-checkout/internal/adapter"
	"ucp-checkout/internal/middleware"
	"ucp-checkout/internal/model"
)

// handleCreateCheckout creates a new checkout session.
// POST /checkout-sessions, POST /ucp/checkout
func (h *Handler) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req adapter.CreateCheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeCheckoutError(w, "", err) // No ID yet for creation errors
		return
	}

	md := middleware.MetadataFromContext(ctx)
	h.logger.InfoContext(ctx, "creating checkout",
		slog.Int("line_items", len(req.LineItems)),
		slog.String("idempotency_key", md.IdempotencyKey),
		logResolution(r),
	)

	checkout, err := h.adapter.CreateCheckout(ctx, &req)
	if err != nil {
		h.writeCheckoutError(w, "", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, checkout)
}

// handleGetCheckout retrieves an existing checkout.
// GET /checkout-sessions/{id}
func (h *Handler) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkoutID := r.PathValue("id")

	h.logger.InfoContext(ctx, "getting checkout",
		slog.String("checkout_id", checkoutID),
	)

	checkout, err := h.adapter.GetCheckout(ctx, checkoutID)
	if err != nil {
		h.writeCheckoutError(w, checkoutID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, checkout)
}

// handleUpdateCheckout replaces line items.
// PUT /checkout-sessions/{id}, PATCH /ucp/checkout/{id}
func (h *Handler) handleUpdateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkoutID := r.PathValue("id")

	var req model.CheckoutUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeCheckoutError(w, checkoutID, err)
		return
	}

	h.logger.InfoContext(ctx, "updating checkout",
		slog.String("checkout_id", checkoutID),
		slog.Int("line_items", len(req.LineItems)),
		logResolution(r),
	)

	checkout, err := h.adapter.UpdateCheckout(ctx, checkoutID, &req)
	if err != nil {
		h.writeCheckoutError(w, checkoutID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, checkout)
}

// handleMintInstrument binds a mock card instrument.
// POST /checkout-sessions/{id}/mint-instrument, POST /ucp/checkout/{id}/mint_instrument
func (h *Handler) handleMintInstrument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkoutID := r.PathValue("id")

	h.logger.InfoContext(ctx, "minting instrument",
		slog.String("checkout_id", checkoutID),
	)

	checkout, err := h.adapter.MintInstrument(ctx, checkoutID)
	if err != nil {
		h.writeCheckoutError(w, checkoutID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, checkout)
}

// handleCompleteCheckout binds any submitted payment and finalizes the checkout.
// POST /checkout-sessions/{id}/complete, POST /ucp/checkout/{id}/complete
func (h *Handler) handleCompleteCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkoutID := r.PathValue("id")

	var req model.CheckoutCompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeCheckoutError(w, checkoutID, err)
		return
	}

	md := middleware.MetadataFromContext(ctx)
	h.logger.InfoContext(ctx, "completing checkout",
		slog.String("checkout_id", checkoutID),
		slog.Bool("has_payment_data", !req.PaymentData.IsEmpty()),
		slog.Bool("signed", md.RequestSignature != ""),
		slog.String("idempotency_key", md.IdempotencyKey),
	)

	checkout, err := h.adapter.CompleteCheckout(ctx, checkoutID, &req)
	if err != nil {
		h.writeCheckoutError(w, checkoutID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, checkout)
}

// handleCancelCheckout cancels a checkout session.
// POST /checkout-sessions/{id}/cancel
func (h *Handler) handleCancelCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkoutID := r.PathValue("id")

	h.logger.InfoContext(ctx, "canceling checkout",
		slog.String("checkout_id", checkoutID),
	)

	checkout, err := h.adapter.CancelCheckout(ctx, checkoutID)
	if err != nil {
		h.writeCheckoutError(w, checkoutID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, checkout)
}
