// Package catalog manages product listings and their stock accounting.
//
// Quantity tracks only unreserved stock. Stock moves through three pools:
//
//	quantity           -- listed and purchasable
//	inEscrowQuantity   -- reserved against an open escrow
//	(committed)        -- permanently deducted when an escrow completes
//
// Reserve moves quantity -> inEscrowQuantity, Release moves it back
// (refund), Commit removes it from inEscrowQuantity for good (sale).
// Products are soft-deleted so escrow back-references stay resolvable.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/acethrift/ace/internal/idgen"
)

var (
	ErrProductNotFound    = errors.New("catalog: product not found")
	ErrProductUnavailable = errors.New("catalog: product is deleted or sold out")
	ErrInsufficientStock  = errors.New("catalog: insufficient unreserved stock")
	ErrNotSeller          = errors.New("catalog: caller is not the seller")
	ErrInvalidQuantity    = errors.New("catalog: quantity must be positive")
)

// Product is a marketplace listing.
type Product struct {
	ID     string `json:"id"`
	Seller string `json:"seller"`

	// Descriptive metadata
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Size        string `json:"size,omitempty"`
	Condition   string `json:"condition,omitempty"`
	Brand       string `json:"brand,omitempty"`
	Gender      string `json:"gender,omitempty"`
	ImageURI    string `json:"imageUri,omitempty"`

	// Pricing, decimal strings in each denomination
	TokenPrice string `json:"tokenPrice"`
	EthPrice   string `json:"ethPrice"`

	// Stock
	Quantity         int64 `json:"quantity"`         // unreserved
	InEscrowQuantity int64 `json:"inEscrowQuantity"` // reserved

	// Exchange
	AvailableForExchange bool   `json:"availableForExchange"`
	ExchangePreference   string `json:"exchangePreference,omitempty"`

	Sold      bool      `json:"sold"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Purchasable reports whether new escrows may reserve stock on the product.
func (p *Product) Purchasable() bool {
	return !p.Deleted && !p.Sold
}

// Query filters product listings.
type Query struct {
	Seller       string
	Category     string
	Gender       string
	ExchangeOnly bool
	Cursor       string // opaque pagination cursor
	Limit        int
}

// Store persists products. Stock mutations must be atomic; the service
// layers per-product serialization on top for multi-step flows.
type Store interface {
	Create(ctx context.Context, p *Product) error
	Get(ctx context.Context, id string) (*Product, error)
	Update(ctx context.Context, p *Product) error
	List(ctx context.Context, q Query) ([]*Product, string, error)

	Reserve(ctx context.Context, id string, qty int64) error
	Release(ctx context.Context, id string, qty int64) error
	Commit(ctx context.Context, id string, qty int64) error
	TransferOwner(ctx context.Context, id, newOwner string) error
	MarkDeleted(ctx context.Context, id string) error

	CountListed(ctx context.Context) (int64, error)
}

// Notifier receives catalog lifecycle events. Fire-and-forget.
type Notifier interface {
	ProductListed(p *Product)
	ProductDeleted(p *Product)
}

// CreateRequest contains the parameters for listing a product.
type CreateRequest struct {
	Seller               string `json:"seller"` // set from the authenticated address
	Name                 string `json:"name" binding:"required"`
	Description          string `json:"description"`
	Category             string `json:"category"`
	Size                 string `json:"size"`
	Condition            string `json:"condition"`
	Brand                string `json:"brand"`
	Gender               string `json:"gender"`
	ImageURI             string `json:"imageUri"`
	TokenPrice           string `json:"tokenPrice" binding:"required"`
	EthPrice             string `json:"ethPrice" binding:"required"`
	Quantity             int64  `json:"quantity" binding:"required"`
	AvailableForExchange bool   `json:"availableForExchange"`
	ExchangePreference   string `json:"exchangePreference"`
}

// Service implements catalog business logic.
type Service struct {
	store    Store
	notifier Notifier
}

// NewService creates a new catalog service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithNotifier adds a lifecycle event notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// Create lists a new product.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Product, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	now := time.Now()
	p := &Product{
		ID:                   idgen.WithPrefix("prod_"),
		Seller:               strings.ToLower(req.Seller),
		Name:                 req.Name,
		Description:          req.Description,
		Category:             req.Category,
		Size:                 req.Size,
		Condition:            req.Condition,
		Brand:                req.Brand,
		Gender:               req.Gender,
		ImageURI:             req.ImageURI,
		TokenPrice:           req.TokenPrice,
		EthPrice:             req.EthPrice,
		Quantity:             req.Quantity,
		AvailableForExchange: req.AvailableForExchange,
		ExchangePreference:   req.ExchangePreference,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.ProductListed(p)
	}
	return p, nil
}

// Get returns a product by ID.
func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	return s.store.Get(ctx, id)
}

// List returns products matching the query plus a next-page cursor.
func (s *Service) List(ctx context.Context, q Query) ([]*Product, string, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 25
	}
	q.Seller = strings.ToLower(q.Seller)
	return s.store.List(ctx, q)
}

// UpdateRequest contains mutable listing fields.
type UpdateRequest struct {
	Name                 *string `json:"name"`
	Description          *string `json:"description"`
	TokenPrice           *string `json:"tokenPrice"`
	EthPrice             *string `json:"ethPrice"`
	ImageURI             *string `json:"imageUri"`
	AvailableForExchange *bool   `json:"availableForExchange"`
	ExchangePreference   *string `json:"exchangePreference"`
}

// Update modifies a listing. Only the seller may update, and deleted
// products are inert.
func (s *Service) Update(ctx context.Context, id, caller string, req UpdateRequest) (*Product, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, p.Seller) {
		return nil, ErrNotSeller
	}
	if p.Deleted {
		return nil, ErrProductUnavailable
	}

	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.TokenPrice != nil {
		p.TokenPrice = *req.TokenPrice
	}
	if req.EthPrice != nil {
		p.EthPrice = *req.EthPrice
	}
	if req.ImageURI != nil {
		p.ImageURI = *req.ImageURI
	}
	if req.AvailableForExchange != nil {
		p.AvailableForExchange = *req.AvailableForExchange
	}
	if req.ExchangePreference != nil {
		p.ExchangePreference = *req.ExchangePreference
	}
	p.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete soft-deletes a listing. Only the seller may delete. The row is
// kept so open escrows can still release or commit their reservations.
func (s *Service) Delete(ctx context.Context, id, caller string) error {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !strings.EqualFold(caller, p.Seller) {
		return ErrNotSeller
	}
	if p.Deleted {
		return ErrProductUnavailable
	}

	if err := s.store.MarkDeleted(ctx, id); err != nil {
		return err
	}
	if s.notifier != nil {
		p.Deleted = true
		s.notifier.ProductDeleted(p)
	}
	return nil
}

// ReserveQuantity moves qty units from available to reserved stock.
func (s *Service) ReserveQuantity(ctx context.Context, id string, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return s.store.Reserve(ctx, id, qty)
}

// ReleaseQuantity returns qty reserved units to available stock (refund).
func (s *Service) ReleaseQuantity(ctx context.Context, id string, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return s.store.Release(ctx, id, qty)
}

// CommitQuantity permanently deducts qty reserved units (completed sale).
func (s *Service) CommitQuantity(ctx context.Context, id string, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return s.store.Commit(ctx, id, qty)
}

// TransferOwner reassigns a listing to a new seller (exchange settlement).
func (s *Service) TransferOwner(ctx context.Context, id, newOwner string) error {
	return s.store.TransferOwner(ctx, id, strings.ToLower(newOwner))
}

// CountListed returns the number of live (non-deleted) listings.
func (s *Service) CountListed(ctx context.Context) (int64, error) {
	return s.store.CountListed(ctx)
}
