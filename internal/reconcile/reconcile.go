// Package reconcile computes what changed between two line-item lists.
// Updates replace line items wholesale; the change set is what gets
// reported on the update span and in logs.
package reconcile

import (
	"sort"

	"ucp-checkout/internal/model"
)

// LineItemChanges describes the delta between current and replacement line items,
// matched by product id. Each list is sorted by product id.
type LineItemChanges struct {
	Added        []ItemChange // Products in replacement but not current
	Removed      []ItemChange // Products in current but not replacement
	Requantified []ItemChange // Products in both with a different total quantity
}

// ItemChange is one product's quantity before and after.
type ItemChange struct {
	ProductID   string
	OldQuantity int
	NewQuantity int
}

// IsEmpty returns true if the replacement leaves every product quantity unchanged.
func (c *LineItemChanges) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Requantified) == 0
}

// DiffLineItems compares current with replacement. Quantities of repeated
// products are summed before comparing, so splitting one product across two
// lines with the same total is not a change.
func DiffLineItems(current, replacement []model.LineItem) *LineItemChanges {
	before := quantities(current)
	after := quantities(replacement)

	changes := &LineItemChanges{}
	for id, qty := range after {
		old, exists := before[id]
		switch {
		case !exists:
			changes.Added = append(changes.Added, ItemChange{ProductID: id, NewQuantity: qty})
		case old != qty:
			changes.Requantified = append(changes.Requantified, ItemChange{ProductID: id, OldQuantity: old, NewQuantity: qty})
		}
	}
	for id, qty := range before {
		if _, exists := after[id]; !exists {
			changes.Removed = append(changes.Removed, ItemChange{ProductID: id, OldQuantity: qty})
		}
	}

	sortChanges(changes.Added)
	sortChanges(changes.Removed)
	sortChanges(changes.Requantified)
	return changes
}

func quantities(items []model.LineItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, li := range items {
		out[li.Item.ID] += li.Quantity
	}
	return out
}

func sortChanges(c []ItemChange) {
	sort.Slice(c, func(i, j int) bool { return c[i].ProductID < c[j].ProductID })
}

// ProductIDs lists the product ids of changes, in order.
func ProductIDs(changes []ItemChange) []string {
	ids := make([]string, len(changes))
	for i, c := range changes {
		ids[i] = c.ProductID
	}
	return ids
}
