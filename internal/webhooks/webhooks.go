// Package webhooks delivers marketplace events to external HTTP endpoints.
//
// Subscribers register a URL and receive signed JSON payloads for the
// event types they care about. Delivery is at-least-once with bounded
// retries; endpoints verify authenticity via an HMAC-SHA256 signature
// over the raw body.
package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrSubscriptionNotFound = errors.New("webhooks: subscription not found")
	ErrNotOwner             = errors.New("webhooks: caller does not own this subscription")
)

// Subscription is one registered endpoint.
type Subscription struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"` // wallet address that registered it
	URL        string    `json:"url"`
	Secret     string    `json:"-"` // HMAC key, shown once at registration
	EventTypes []string  `json:"eventTypes"` // empty means all events
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Wants reports whether the subscription covers the given event type.
func (s *Subscription) Wants(eventType string) bool {
	if !s.Active {
		return false
	}
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// Store persists subscriptions.
type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByOwner(ctx context.Context, owner string) ([]*Subscription, error)
	ListActive(ctx context.Context) ([]*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	Delete(ctx context.Context, id string) error
}

// NewSecret generates a fresh HMAC key.
func NewSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}

// MemoryStore is an in-memory subscription store for demo/development mode.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, owner string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subs {
		if strings.EqualFold(s.Owner, owner) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subs {
		if s.Active {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(m.subs, id)
	return nil
}
