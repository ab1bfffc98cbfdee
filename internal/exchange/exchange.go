// Package exchange tracks proposed item-for-item trades.
//
// Offers are kept in per-wanted-product lists and addressed by
// (wantedProductId, offerIndex). Accepting an offer consumes it and opens
// one exchange escrow; the actual swap happens on escrow completion, so
// the registry never moves funds or stock itself.
package exchange

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/acethrift/ace/internal/catalog"
	"github.com/acethrift/ace/internal/escrow"
	"github.com/acethrift/ace/internal/metrics"
	"github.com/acethrift/ace/internal/syncutil"
	"github.com/acethrift/ace/internal/token"
)

var (
	ErrOfferNotFound   = errors.New("exchange: offer not found")
	ErrOfferInactive   = errors.New("exchange: offer is no longer active")
	ErrUnauthorized    = errors.New("exchange: caller may not act on this offer")
	ErrSelfExchange    = errors.New("exchange: cannot offer a product for itself")
	ErrNotExchangeable = errors.New("exchange: wanted product is not open to exchange")
	ErrInvalidTopUp    = errors.New("exchange: invalid token top-up")
)

// Offer is a proposed item swap with an optional ACE top-up.
type Offer struct {
	WantedProductID  string `json:"wantedProductId"`
	Index            int    `json:"offerIndex"` // position in the wanted product's offer list
	OfferedProductID string `json:"offeredProductId"`
	Offerer          string `json:"offerer"`
	TokenTopUp       string `json:"tokenTopUp"`
	Active           bool   `json:"active"`
	EscrowID         int64  `json:"escrowId,omitempty"` // set once accepted

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists offers. Append assigns the next index within the wanted
// product's list.
type Store interface {
	Append(ctx context.Context, o *Offer) error
	Get(ctx context.Context, wantedProductID string, index int) (*Offer, error)
	Update(ctx context.Context, o *Offer) error
	ListByProduct(ctx context.Context, wantedProductID string) ([]*Offer, error)
	ListByOfferer(ctx context.Context, addr string) ([]*Offer, error)
}

// EscrowCreator opens the escrow backing an accepted offer.
type EscrowCreator interface {
	CreateExchange(ctx context.Context, wantedProductID, offeredProductID, offerer, topUp string) (*escrow.Escrow, error)
}

// CatalogProvider resolves the two listings of an offer.
type CatalogProvider interface {
	Get(ctx context.Context, id string) (*catalog.Product, error)
}

// Notifier receives offer lifecycle events. Fire-and-forget.
type Notifier interface {
	ExchangeOfferCreated(o *Offer)
	ExchangeOfferAccepted(o *Offer, e *escrow.Escrow)
	ExchangeOfferCancelled(o *Offer)
}

// Registry implements the exchange offer state machine.
type Registry struct {
	store    Store
	escrows  EscrowCreator
	catalog  CatalogProvider
	notifier Notifier

	// Per-wanted-product serialization. Context-aware so a caller stuck
	// behind a slow accept can bail out when its request is cancelled.
	locks *syncutil.ContextShardedMutex
}

// NewRegistry creates a new exchange offer registry.
func NewRegistry(store Store, escrows EscrowCreator, cat CatalogProvider) *Registry {
	return &Registry{
		store:   store,
		escrows: escrows,
		catalog: cat,
		locks:   syncutil.NewContextShardedMutex(),
	}
}

// WithNotifier adds a lifecycle event notifier.
func (r *Registry) WithNotifier(n Notifier) *Registry {
	r.notifier = n
	return r
}

// CreateRequest contains the parameters for proposing a swap.
type CreateRequest struct {
	OfferedProductID string `json:"offeredProductId" binding:"required"`
	WantedProductID  string `json:"wantedProductId" binding:"required"`
	Offerer          string `json:"offerer"`
	TokenTopUp       string `json:"tokenTopUp"`
}

// Create appends an offer to the wanted product's list. No funds or
// stock move until the offer is accepted.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Offer, error) {
	if req.OfferedProductID == req.WantedProductID {
		return nil, ErrSelfExchange
	}
	if amt, ok := token.Parse(req.TokenTopUp, token.DenomACE); !ok || amt.Sign() < 0 {
		return nil, ErrInvalidTopUp
	}

	offered, err := r.catalog.Get(ctx, req.OfferedProductID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(req.Offerer, offered.Seller) {
		return nil, ErrUnauthorized
	}
	if !offered.Purchasable() {
		return nil, catalog.ErrProductUnavailable
	}

	wanted, err := r.catalog.Get(ctx, req.WantedProductID)
	if err != nil {
		return nil, err
	}
	if !wanted.Purchasable() {
		return nil, catalog.ErrProductUnavailable
	}
	if !wanted.AvailableForExchange {
		return nil, ErrNotExchangeable
	}

	unlock, err := r.locks.LockContext(ctx, req.WantedProductID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := time.Now()
	o := &Offer{
		WantedProductID:  req.WantedProductID,
		OfferedProductID: req.OfferedProductID,
		Offerer:          strings.ToLower(req.Offerer),
		TokenTopUp:       req.TokenTopUp,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.store.Append(ctx, o); err != nil {
		return nil, err
	}

	metrics.ExchangeOffersTotal.WithLabelValues("created").Inc()
	if r.notifier != nil {
		r.notifier.ExchangeOfferCreated(o)
	}
	return o, nil
}

// Accept consumes an active offer and opens the backing escrow. Only the
// wanted product's current owner may accept.
func (r *Registry) Accept(ctx context.Context, wantedProductID string, index int, caller string) (*Offer, *escrow.Escrow, error) {
	unlock, err := r.locks.LockContext(ctx, wantedProductID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	o, err := r.store.Get(ctx, wantedProductID, index)
	if err != nil {
		return nil, nil, err
	}
	if !o.Active {
		return nil, nil, ErrOfferInactive
	}

	wanted, err := r.catalog.Get(ctx, wantedProductID)
	if err != nil {
		return nil, nil, err
	}
	if !strings.EqualFold(caller, wanted.Seller) {
		return nil, nil, ErrUnauthorized
	}

	// The offered item must still belong to the offerer and still be live;
	// otherwise the offer is stale.
	offered, err := r.catalog.Get(ctx, o.OfferedProductID)
	if err != nil {
		return nil, nil, err
	}
	if !offered.Purchasable() || !strings.EqualFold(offered.Seller, o.Offerer) {
		return nil, nil, ErrOfferInactive
	}

	e, err := r.escrows.CreateExchange(ctx, wantedProductID, o.OfferedProductID, o.Offerer, o.TokenTopUp)
	if err != nil {
		return nil, nil, err
	}

	o.Active = false
	o.EscrowID = e.ID
	o.UpdatedAt = time.Now()
	if err := r.store.Update(ctx, o); err != nil {
		return nil, nil, err
	}

	metrics.ExchangeOffersTotal.WithLabelValues("accepted").Inc()
	if r.notifier != nil {
		r.notifier.ExchangeOfferAccepted(o, e)
	}
	return o, e, nil
}

// Cancel deactivates an offer. Only the offerer may cancel.
func (r *Registry) Cancel(ctx context.Context, wantedProductID string, index int, caller string) (*Offer, error) {
	unlock, err := r.locks.LockContext(ctx, wantedProductID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := r.store.Get(ctx, wantedProductID, index)
	if err != nil {
		return nil, err
	}
	if !o.Active {
		return nil, ErrOfferInactive
	}
	if !strings.EqualFold(caller, o.Offerer) {
		return nil, ErrUnauthorized
	}

	o.Active = false
	o.UpdatedAt = time.Now()
	if err := r.store.Update(ctx, o); err != nil {
		return nil, err
	}

	metrics.ExchangeOffersTotal.WithLabelValues("cancelled").Inc()
	if r.notifier != nil {
		r.notifier.ExchangeOfferCancelled(o)
	}
	return o, nil
}

// Get returns the offer at (wantedProductId, offerIndex).
func (r *Registry) Get(ctx context.Context, wantedProductID string, index int) (*Offer, error) {
	return r.store.Get(ctx, wantedProductID, index)
}

// ListByProduct returns all offers on a wanted product, oldest first, so
// indices line up with positions.
func (r *Registry) ListByProduct(ctx context.Context, wantedProductID string) ([]*Offer, error) {
	return r.store.ListByProduct(ctx, wantedProductID)
}

// ListByOfferer returns all offers made by addr.
func (r *Registry) ListByOfferer(ctx context.Context, addr string) ([]*Offer, error) {
	return r.store.ListByOfferer(ctx, strings.ToLower(addr))
}
