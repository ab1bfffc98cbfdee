package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/acethrift/ace/internal/pagination"
)

// MemoryStore is an in-memory catalog store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*Product
}

// NewMemoryStore creates a new in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{products: make(map[string]*Product)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[p.ID]; !ok {
		return ErrProductNotFound
	}
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, q Query) ([]*Product, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Product
	for _, p := range m.products {
		if p.Deleted {
			continue
		}
		if q.Seller != "" && p.Seller != q.Seller {
			continue
		}
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		if q.Gender != "" && p.Gender != q.Gender {
			continue
		}
		if q.ExchangeOnly && !p.AvailableForExchange {
			continue
		}
		all = append(all, p)
	}

	// Newest first, ID as tiebreak for a stable cursor order.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	start := 0
	if q.Cursor != "" {
		cur, err := pagination.Decode(q.Cursor)
		if err != nil {
			return nil, "", err
		}
		for i, p := range all {
			if p.CreatedAt.Before(cur.CreatedAt) ||
				(p.CreatedAt.Equal(cur.CreatedAt) && p.ID < cur.ID) {
				start = i
				break
			}
			start = len(all)
		}
	}

	end := start + q.Limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]*Product, 0, end-start)
	for _, p := range all[start:end] {
		cp := *p
		page = append(page, &cp)
	}

	next := ""
	if end < len(all) && len(page) > 0 {
		last := page[len(page)-1]
		next = pagination.Encode(last.CreatedAt, last.ID)
	}
	return page, next, nil
}

func (m *MemoryStore) Reserve(ctx context.Context, id string, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return ErrProductNotFound
	}
	if p.Deleted || p.Sold {
		return ErrProductUnavailable
	}
	if p.Quantity < qty {
		return ErrInsufficientStock
	}
	p.Quantity -= qty
	p.InEscrowQuantity += qty
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, id string, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return ErrProductNotFound
	}
	if p.InEscrowQuantity < qty {
		return ErrInsufficientStock
	}
	p.InEscrowQuantity -= qty
	p.Quantity += qty
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Commit(ctx context.Context, id string, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return ErrProductNotFound
	}
	if p.InEscrowQuantity < qty {
		return ErrInsufficientStock
	}
	p.InEscrowQuantity -= qty
	if p.Quantity == 0 && p.InEscrowQuantity == 0 {
		p.Sold = true
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) TransferOwner(ctx context.Context, id, newOwner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Seller = newOwner
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) MarkDeleted(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Deleted = true
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CountListed(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, p := range m.products {
		if !p.Deleted {
			n++
		}
	}
	return n, nil
}
