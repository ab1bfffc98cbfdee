package exchange

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory offer store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	offers map[string][]*Offer // wantedProductID -> list, index = position
}

// NewMemoryStore creates a new in-memory offer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: make(map[string][]*Offer)}
}

func (m *MemoryStore) Append(ctx context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o.Index = len(m.offers[o.WantedProductID])
	cp := *o
	m.offers[o.WantedProductID] = append(m.offers[o.WantedProductID], &cp)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, wantedProductID string, index int) (*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.offers[wantedProductID]
	if index < 0 || index >= len(list) {
		return nil, ErrOfferNotFound
	}
	cp := *list[index]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.offers[o.WantedProductID]
	if o.Index < 0 || o.Index >= len(list) {
		return ErrOfferNotFound
	}
	cp := *o
	list[o.Index] = &cp
	return nil
}

func (m *MemoryStore) ListByProduct(ctx context.Context, wantedProductID string) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.offers[wantedProductID]
	out := make([]*Offer, len(list))
	for i, o := range list {
		cp := *o
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) ListByOfferer(ctx context.Context, addr string) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Offer
	for _, list := range m.offers {
		for _, o := range list {
			if o.Offerer == addr {
				cp := *o
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
