package adapter

import (
	"context"

	"ucp-checkout/internal/model"
)

// Mock implements Adapter for testing.
// Each method can be configured via function fields.
type Mock struct {
	GetProfileFunc       func(ctx context.Context) (*model.DiscoveryProfile, error)
	CreateCheckoutFunc   func(ctx context.Context, req *CreateCheckoutRequest) (*model.Checkout, error)
	GetCheckoutFunc      func(ctx context.Context, id string) (*model.Checkout, error)
	UpdateCheckoutFunc   func(ctx context.Context, id string, req *model.CheckoutUpdateRequest) (*model.Checkout, error)
	MintInstrumentFunc   func(ctx context.Context, id string) (*model.Checkout, error)
	CompleteCheckoutFunc func(ctx context.Context, id string, req *model.CheckoutCompleteRequest) (*model.Checkout, error)
	CancelCheckoutFunc   func(ctx context.Context, id string) (*model.Checkout, error)
}

// GetProfile calls GetProfileFunc or returns a checkout-only profile.
func (m *Mock) GetProfile(ctx context.Context) (*model.DiscoveryProfile, error) {
	if m.GetProfileFunc != nil {
		return m.GetProfileFunc(ctx)
	}
	return &model.DiscoveryProfile{
		UCP: model.UCPMetadata{
			Version: model.UCPVersion,
			Capabilities: []model.CapabilityRef{
				model.NewCapabilityRef(model.CapabilityCheckout, model.UCPVersion, ""),
			},
		},
	}, nil
}

func (m *Mock) CreateCheckout(ctx context.Context, req *CreateCheckoutRequest) (*model.Checkout, error) {
	if m.CreateCheckoutFunc != nil {
		return m.CreateCheckoutFunc(ctx, req)
	}
	return nil, model.NewInternalError(nil)
}

func (m *Mock) GetCheckout(ctx context.Context, id string) (*model.Checkout, error) {
	if m.GetCheckoutFunc != nil {
		return m.GetCheckoutFunc(ctx, id)
	}
	return nil, model.NewNotFoundError("checkout")
}

func (m *Mock) UpdateCheckout(ctx context.Context, id string, req *model.CheckoutUpdateRequest) (*model.Checkout, error) {
	if m.UpdateCheckoutFunc != nil {
		return m.UpdateCheckoutFunc(ctx, id, req)
	}
	return nil, model.NewNotFoundError("checkout")
}

func (m *Mock) MintInstrument(ctx context.Context, id string) (*model.Checkout, error) {
	if m.MintInstrumentFunc != nil {
		return m.MintInstrumentFunc(ctx, id)
	}
	return nil, model.NewNotFoundError("checkout")
}

func (m *Mock) CompleteCheckout(ctx context.Context, id string, req *model.CheckoutCompleteRequest) (*model.Checkout, error) {
	if m.CompleteCheckoutFunc != nil {
		return m.CompleteCheckoutFunc(ctx, id, req)
	}
	return nil, model.NewNotFoundError("checkout")
}

func (m *Mock) CancelCheckout(ctx context.Context, id string) (*model.Checkout, error) {
	if m.CancelCheckoutFunc != nil {
		return m.CancelCheckoutFunc(ctx, id)
	}
	return nil, model.NewNotFoundError("checkout")
}

var _ Adapter = (*Mock)(nil)
