// Package catalog holds the product records checkout line items are built from.
package catalog

import (
	"sync"

	"ucp-checkout/internal/model"
)

// Catalog is the product lookup the checkout engine consults.
// Implementations must be safe for concurrent use.
type Catalog interface {
	// Lookup returns the product with the given id.
	Lookup(id string) (model.Product, bool)
	// Any returns a stable default product, or false when the catalog is empty.
	Any() (model.Product, bool)
	// Register adds p unless a product with the same id exists,
	// and returns whichever product is stored under that id.
	Register(p model.Product) model.Product
}

// Memory is an in-memory Catalog that remembers insertion order.
// Any returns the first product inserted.
type Memory struct {
	mu       sync.RWMutex
	products map[string]model.Product
	order    []string
}

var _ Catalog = (*Memory)(nil)

// NewMemory creates a catalog from products. A later duplicate id replaces
// the earlier record but keeps its position.
func NewMemory(products ...model.Product) *Memory {
	m := &Memory{products: make(map[string]model.Product, len(products))}
	for _, p := range products {
		if _, exists := m.products[p.ID]; !exists {
			m.order = append(m.order, p.ID)
		}
		m.products[p.ID] = p
	}
	return m
}

func (m *Memory) Lookup(id string) (model.Product, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	return p, ok
}

func (m *Memory) Any() (model.Product, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return model.Product{}, false
	}
	return m.products[m.order[0]], true
}

func (m *Memory) Register(p model.Product) model.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.products[p.ID]; ok {
		return existing
	}
	m.products[p.ID] = p
	m.order = append(m.order, p.ID)
	return p
}

// Len returns the number of products.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Products returns all products in insertion order.
func (m *Memory) Products() []model.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Product, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.products[id])
	}
	return out
}
