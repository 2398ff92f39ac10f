// Package pricing computes line and order totals in integer minor units.
package pricing

import "ucp-checkout/internal/model"

// Defaults for the flat fulfillment fee.
const (
	DefaultFulfillmentFee   int64 = 599
	DefaultFulfillmentLabel       = "Standard Shipping"
)

// Options configures an Engine.
type Options struct {
	FulfillmentFee     int64
	FulfillmentLabel   string
	DisableFulfillment bool
}

// Engine derives totals breakdowns. It holds no mutable state.
type Engine struct {
	fee         int64
	label       string
	fulfillment bool
}

// New creates an Engine. An empty label falls back to DefaultFulfillmentLabel.
func New(opts Options) *Engine {
	label := opts.FulfillmentLabel
	if label == "" {
		label = DefaultFulfillmentLabel
	}
	return &Engine{
		fee:         opts.FulfillmentFee,
		label:       label,
		fulfillment: !opts.DisableFulfillment,
	}
}

// NewDefault creates an Engine charging DefaultFulfillmentFee.
func NewDefault() *Engine {
	return New(Options{FulfillmentFee: DefaultFulfillmentFee})
}

// LineTotals returns [subtotal, total] for one line, both unitPrice × quantity.
func LineTotals(unitPrice int64, quantity int) []model.Total {
	amount := unitPrice * int64(quantity)
	return []model.Total{
		{Type: model.TotalTypeSubtotal, Amount: amount},
		{Type: model.TotalTypeTotal, Amount: amount},
	}
}

// OrderTotals returns [subtotal, fulfillment?, total]. The subtotal sums each
// line's total entry, so per-line adjustments carry through.
func (e *Engine) OrderTotals(items []model.LineItem) []model.Total {
	var subtotal int64
	for _, li := range items {
		amount, _ := model.AmountOf(li.Totals, model.TotalTypeTotal)
		subtotal += amount
	}

	totals := []model.Total{{Type: model.TotalTypeSubtotal, Amount: subtotal}}
	grand := subtotal
	if e.fulfillment {
		totals = append(totals, model.Total{
			Type:        model.TotalTypeFulfillment,
			Amount:      e.fee,
			DisplayText: e.label,
		})
		grand += e.fee
	}
	return append(totals, model.Total{Type: model.TotalTypeTotal, Amount: grand})
}
