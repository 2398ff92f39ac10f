package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ucp-checkout/internal/model"
)

// Session is the stored state of one checkout.
// Only the store holds a writable copy; callers always receive clones.
type Session struct {
	ID        string
	LineItems []model.LineItem
	Payment   model.Payment
	Status    model.CheckoutStatus
	CreatedAt time.Time
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	out.LineItems = make([]model.LineItem, len(s.LineItems))
	for i, li := range s.LineItems {
		li.Totals = append([]model.Total(nil), li.Totals...)
		out.LineItems[i] = li
	}
	out.Payment = s.Payment.Clone()
	return out
}

// SessionStore owns checkout sessions.
// Update must run fn with exclusive access to the session so that at most one
// mutation per id is in flight; Get may run concurrently with other Gets.
type SessionStore interface {
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Update(ctx context.Context, id string, fn func(*Session)) (Session, error)
}

// MemoryStore keeps sessions in process memory with one lock per session.
// The map lock only guards membership, so work on different sessions never contends.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
}

type record struct {
	mu      sync.RWMutex
	session Session
}

var _ SessionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*record)}
}

// Insert adds a new session. Ids are never reused.
func (m *MemoryStore) Insert(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[s.ID]; exists {
		return fmt.Errorf("checkout %s already exists", s.ID)
	}
	m.records[s.ID] = &record{session: s.Clone()}
	return nil
}

// Get returns a snapshot of the session.
func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.session.Clone(), nil
}

// Update applies fn under the session's write lock and returns the result.
// fn must not retain the pointer or block.
func (m *MemoryStore) Update(_ context.Context, id string, fn func(*Session)) (Session, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	fn(&rec.session)
	return rec.session.Clone(), nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) lookup(id string) (*record, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, model.NewNotFoundError("checkout")
	}
	return rec, nil
}
