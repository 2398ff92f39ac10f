// Package adapter defines the checkout operations the transport layer drives.
// REST and MCP handlers depend on this interface, not on the engine directly.
package adapter

import (
	"context"

	"ucp-checkout/internal/model"
)

// Adapter is the checkout engine as seen by transports.
// Every method returns a UCP checkout document ready for serialization,
// or an *model.APIError describing the failure.
type Adapter interface {
	// GetProfile returns the discovery profile served at /.well-known/ucp.
	GetProfile(ctx context.Context) (*model.DiscoveryProfile, error)

	// CreateCheckout opens a session in status incomplete.
	// Without line items, one unit of the catalog's default product is added.
	CreateCheckout(ctx context.Context, req *CreateCheckoutRequest) (*model.Checkout, error)

	// GetCheckout returns the current session state.
	GetCheckout(ctx context.Context, checkoutID string) (*model.Checkout, error)

	// UpdateCheckout replaces line items when the request lists any
	// and marks the session ready_for_complete.
	UpdateCheckout(ctx context.Context, checkoutID string, req *model.CheckoutUpdateRequest) (*model.Checkout, error)

	// MintInstrument binds a placeholder card instrument from the mock handler.
	MintInstrument(ctx context.Context, checkoutID string) (*model.Checkout, error)

	// CompleteCheckout marks the session completed, binding any submitted
	// payment data, and attaches an order confirmation to the response.
	CompleteCheckout(ctx context.Context, checkoutID string, req *model.CheckoutCompleteRequest) (*model.Checkout, error)

	// CancelCheckout marks the session canceled from any state.
	CancelCheckout(ctx context.Context, checkoutID string) (*model.Checkout, error)
}

// CreateCheckoutRequest is the body of a create call.
type CreateCheckoutRequest struct {
	LineItems []model.LineItemRequest `json:"line_items,omitempty"`
}
