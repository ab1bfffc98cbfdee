// Package escrow implements the trade settlement engine.
//
// An escrow holds a buyer's payment and a product's reserved stock until
// both parties confirm, or until a refund returns both. The state machine
// is Created -> {Completed | Refunded}; both outcomes are terminal and
// mutually exclusive. Exchange trades reuse the same machine: the
// "payment" is the offered item plus an optional ACE top-up, and
// completion swaps ownership of the two listings.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/acethrift/ace/internal/catalog"
	"github.com/acethrift/ace/internal/metrics"
	"github.com/acethrift/ace/internal/syncutil"
	"github.com/acethrift/ace/internal/token"
)

var (
	ErrEscrowNotFound     = errors.New("escrow: not found")
	ErrUnauthorized       = errors.New("escrow: caller is not a party to this escrow")
	ErrAlreadyFinalized   = errors.New("escrow: already completed or refunded")
	ErrDeadlineNotReached = errors.New("escrow: refund deadline not reached")
	ErrPaymentMismatch    = errors.New("escrow: payment does not match price times quantity")
	ErrInvalidDenom       = errors.New("escrow: invalid denomination")
	ErrInvalidAmount      = errors.New("escrow: invalid amount")
	ErrInvalidQuantity    = errors.New("escrow: quantity must be positive")
)

// Escrow is a reserved, time-bounded trade.
type Escrow struct {
	ID       int64  `json:"id"`
	ProductID string `json:"productId"`
	Buyer    string `json:"buyer"`
	Seller   string `json:"seller"`

	Denom    token.Denom `json:"denom"`
	Amount   string      `json:"amount"` // total locked, decimal string
	Quantity int64       `json:"quantity"`

	Deadline time.Time `json:"deadline"`

	BuyerConfirmed  bool `json:"buyerConfirmed"`
	SellerConfirmed bool `json:"sellerConfirmed"`
	Completed       bool `json:"completed"`
	Refunded        bool `json:"refunded"`

	IsExchange        bool   `json:"isExchange"`
	ExchangeProductID string `json:"exchangeProductId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Finalized reports whether the escrow reached a terminal state.
func (e *Escrow) Finalized() bool {
	return e.Completed || e.Refunded
}

// Party reports whether addr is the buyer or the seller.
func (e *Escrow) Party(addr string) bool {
	return strings.EqualFold(addr, e.Buyer) || strings.EqualFold(addr, e.Seller)
}

// Store persists escrows. Create assigns a monotonic ID.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id int64) (*Escrow, error)
	GetBatch(ctx context.Context, ids []int64) ([]*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
	Delete(ctx context.Context, id int64) error // create-rollback only
	ListByUser(ctx context.Context, addr string, limit int) ([]*Escrow, error)
	CountByState(ctx context.Context) (created, completed, refunded int64, err error)
	// QueryForAnalytics returns the most recent escrows, optionally filtered
	// to one seller. An empty seller matches everything.
	QueryForAnalytics(ctx context.Context, seller string, limit int) ([]*Escrow, error)
}

// LedgerProvider is the funds collaborator. Lock moves buyer funds from
// available to escrowed; Release settles to the seller with a fee leg to
// the treasury; Refund returns escrowed funds to the buyer.
type LedgerProvider interface {
	EscrowLock(ctx context.Context, buyer string, denom token.Denom, amount, ref string) error
	ReleaseEscrow(ctx context.Context, buyer, seller string, denom token.Denom, amount, fee, ref string) error
	RefundEscrow(ctx context.Context, buyer string, denom token.Denom, amount, ref string) error
}

// CatalogProvider is the stock collaborator.
type CatalogProvider interface {
	Get(ctx context.Context, id string) (*catalog.Product, error)
	ReserveQuantity(ctx context.Context, id string, qty int64) error
	ReleaseQuantity(ctx context.Context, id string, qty int64) error
	CommitQuantity(ctx context.Context, id string, qty int64) error
	TransferOwner(ctx context.Context, id, newOwner string) error
}

// Notifier receives escrow lifecycle events. Fire-and-forget.
type Notifier interface {
	EscrowCreated(e *Escrow)
	EscrowConfirmed(e *Escrow, party string)
	EscrowCompleted(e *Escrow)
	EscrowRefunded(e *Escrow)
}

// Engine owns all escrow records and their transitions. Every mutation of
// a product's stock runs under that product's shard lock, and every
// transition of an escrow runs under that escrow's lock, giving the
// single-writer serialization the settlement semantics assume.
type Engine struct {
	store    Store
	ledger   LedgerProvider
	catalog  CatalogProvider
	notifier Notifier

	maxDuration time.Duration
	feeBPS      int64

	productLocks syncutil.ShardedMutex
	escrowLocks  sync.Map // int64 -> *sync.Mutex

	now func() time.Time
}

// NewEngine creates a new escrow engine.
func NewEngine(store Store, ledger LedgerProvider, cat CatalogProvider, maxDuration time.Duration, feeBPS int64) *Engine {
	return &Engine{
		store:       store,
		ledger:      ledger,
		catalog:     cat,
		maxDuration: maxDuration,
		feeBPS:      feeBPS,
		now:         time.Now,
	}
}

// WithNotifier adds a lifecycle event notifier.
func (en *Engine) WithNotifier(n Notifier) *Engine {
	en.notifier = n
	return en
}

// CreateRequest contains the parameters for a direct purchase escrow.
type CreateRequest struct {
	ProductID string      `json:"productId" binding:"required"`
	Buyer     string      `json:"buyer"`
	Quantity  int64       `json:"quantity" binding:"required"`
	Denom     token.Denom `json:"denom" binding:"required"`
	Amount    string      `json:"amount" binding:"required"` // claimed payment, verified against the catalog price
}

// Create opens a purchase escrow: verifies the claimed payment against
// the catalog price, reserves stock, and locks the buyer's funds.
func (en *Engine) Create(ctx context.Context, req CreateRequest) (*Escrow, error) {
	if err := validateCreate(req.Quantity, req.Denom); err != nil {
		return nil, err
	}

	unlock := en.productLocks.Lock(req.ProductID)
	defer unlock()

	prod, err := en.catalog.Get(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !prod.Purchasable() {
		return nil, catalog.ErrProductUnavailable
	}

	// Price is authoritative from the catalog; the caller's amount is a
	// confirmation, never a source of truth.
	total, err := lineTotal(prod, req.Denom, req.Quantity)
	if err != nil {
		return nil, err
	}
	claimed, ok := token.Parse(req.Amount, req.Denom)
	if !ok {
		return nil, ErrInvalidAmount
	}
	if claimed.Cmp(total) != 0 {
		return nil, ErrPaymentMismatch
	}

	e, err := en.open(ctx, prod, req.Buyer, req.Denom, total, req.Quantity, false, "")
	if err != nil {
		return nil, err
	}

	if err := en.lockFunds(ctx, e, total); err != nil {
		en.rollbackOpen(ctx, e)
		return nil, err
	}

	en.finishCreate(e)
	return e, nil
}

// CreateExchange opens an exchange escrow for an accepted offer. The
// wanted product is the escrow's product, the offered one rides along as
// exchangeProductId, and the amount is the ACE top-up (possibly zero).
func (en *Engine) CreateExchange(ctx context.Context, wantedProductID, offeredProductID, offerer, topUp string) (*Escrow, error) {
	unlock := en.productLocks.Lock(wantedProductID)
	defer unlock()

	prod, err := en.catalog.Get(ctx, wantedProductID)
	if err != nil {
		return nil, err
	}
	if !prod.Purchasable() {
		return nil, catalog.ErrProductUnavailable
	}

	amt, ok := token.Parse(topUp, token.DenomACE)
	if !ok || amt.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	e, err := en.open(ctx, prod, offerer, token.DenomACE, amt, 1, true, offeredProductID)
	if err != nil {
		return nil, err
	}

	if err := en.lockFunds(ctx, e, amt); err != nil {
		en.rollbackOpen(ctx, e)
		return nil, err
	}

	en.finishCreate(e)
	return e, nil
}

// Line is one product/quantity pair of a bulk settlement.
type Line struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

// CreateBatch opens one escrow per line, all-or-nothing. Stock for every
// line is validated against a speculative combined reservation before
// anything mutates, so a product appearing twice must cover the summed
// quantity. The claimed total must equal the sum of line prices.
func (en *Engine) CreateBatch(ctx context.Context, buyer string, denom token.Denom, lines []Line, claimedTotal string) ([]*Escrow, error) {
	if len(lines) == 0 {
		return nil, ErrInvalidQuantity
	}
	ids := make([]string, len(lines))
	for i, ln := range lines {
		if err := validateCreate(ln.Quantity, denom); err != nil {
			return nil, err
		}
		ids[i] = ln.ProductID
	}

	unlock := en.productLocks.LockMany(ids)
	defer unlock()

	// Validation pass: fetch products, check combined stock, sum prices.
	products := make([]*catalog.Product, len(lines))
	needed := make(map[string]int64, len(lines))
	total := big.NewInt(0)
	for i, ln := range lines {
		prod, err := en.catalog.Get(ctx, ln.ProductID)
		if err != nil {
			return nil, err
		}
		if !prod.Purchasable() {
			return nil, catalog.ErrProductUnavailable
		}
		needed[ln.ProductID] += ln.Quantity
		if needed[ln.ProductID] > prod.Quantity {
			return nil, catalog.ErrInsufficientStock
		}
		lt, err := lineTotal(prod, denom, ln.Quantity)
		if err != nil {
			return nil, err
		}
		total.Add(total, lt)
		products[i] = prod
	}

	claimed, ok := token.Parse(claimedTotal, denom)
	if !ok {
		return nil, ErrInvalidAmount
	}
	if claimed.Cmp(total) != 0 {
		return nil, ErrPaymentMismatch
	}

	// Mutation pass: reserve and record every line, then lock the total
	// in one ledger move. Any failure unwinds everything already done.
	var opened []*Escrow
	for i, ln := range lines {
		prod := products[i]
		lt, _ := lineTotal(prod, denom, ln.Quantity)
		e, err := en.open(ctx, prod, buyer, denom, lt, ln.Quantity, false, "")
		if err != nil {
			en.rollbackBatch(ctx, opened)
			return nil, err
		}
		opened = append(opened, e)
	}

	if total.Sign() > 0 {
		ref := fmt.Sprintf("bulk:%d", opened[0].ID)
		if err := en.ledger.EscrowLock(ctx, strings.ToLower(buyer), denom, token.Format(total, denom), ref); err != nil {
			en.rollbackBatch(ctx, opened)
			return nil, err
		}
	}

	for _, e := range opened {
		en.finishCreate(e)
	}
	return opened, nil
}

// open reserves stock and records the escrow. The caller must hold the
// product lock and is responsible for locking funds afterwards.
func (en *Engine) open(ctx context.Context, prod *catalog.Product, buyer string, denom token.Denom, amount *big.Int, qty int64, isExchange bool, exchangeProductID string) (*Escrow, error) {
	if err := en.catalog.ReserveQuantity(ctx, prod.ID, qty); err != nil {
		return nil, err
	}

	now := en.now()
	e := &Escrow{
		ProductID:         prod.ID,
		Buyer:             strings.ToLower(buyer),
		Seller:            strings.ToLower(prod.Seller),
		Denom:             denom,
		Amount:            token.Format(amount, denom),
		Quantity:          qty,
		Deadline:          now.Add(en.maxDuration),
		IsExchange:        isExchange,
		ExchangeProductID: exchangeProductID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := en.store.Create(ctx, e); err != nil {
		en.catalog.ReleaseQuantity(ctx, prod.ID, qty)
		return nil, err
	}
	return e, nil
}

func (en *Engine) lockFunds(ctx context.Context, e *Escrow, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	return en.ledger.EscrowLock(ctx, e.Buyer, e.Denom, e.Amount, escrowRef(e.ID))
}

func (en *Engine) rollbackOpen(ctx context.Context, e *Escrow) {
	en.catalog.ReleaseQuantity(ctx, e.ProductID, e.Quantity)
	en.store.Delete(ctx, e.ID)
}

func (en *Engine) rollbackBatch(ctx context.Context, opened []*Escrow) {
	for _, e := range opened {
		en.rollbackOpen(ctx, e)
	}
}

func (en *Engine) finishCreate(e *Escrow) {
	metrics.EscrowsTotal.WithLabelValues("created").Inc()
	if en.notifier != nil {
		en.notifier.EscrowCreated(e)
	}
}

// Confirm records one party's confirmation. Either party may confirm
// first; the second confirmation settles the trade: funds go to the
// seller minus the platform fee, reserved stock is committed, and for
// exchanges the two listings swap owners.
func (en *Engine) Confirm(ctx context.Context, id int64, caller string) (*Escrow, error) {
	unlock := en.lockEscrow(id)
	defer unlock()

	e, err := en.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Finalized() {
		return nil, ErrAlreadyFinalized
	}

	switch {
	case strings.EqualFold(caller, e.Buyer):
		e.BuyerConfirmed = true
	case strings.EqualFold(caller, e.Seller):
		e.SellerConfirmed = true
	default:
		return nil, ErrUnauthorized
	}
	e.UpdatedAt = en.now()

	if !(e.BuyerConfirmed && e.SellerConfirmed) {
		if err := en.store.Update(ctx, e); err != nil {
			return nil, err
		}
		if en.notifier != nil {
			en.notifier.EscrowConfirmed(e, strings.ToLower(caller))
		}
		return e, nil
	}

	if err := en.settle(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// settle completes a fully confirmed escrow. Caller holds the escrow lock.
func (en *Engine) settle(ctx context.Context, e *Escrow) error {
	unlock := en.productLocks.Lock(e.ProductID)
	defer unlock()

	amt, _ := token.Parse(e.Amount, e.Denom)
	if amt.Sign() > 0 {
		fee := token.Fee(amt, en.feeBPS)
		err := en.ledger.ReleaseEscrow(ctx, e.Buyer, e.Seller, e.Denom,
			e.Amount, token.Format(fee, e.Denom), escrowRef(e.ID))
		if err != nil {
			return err
		}
	}

	if err := en.catalog.CommitQuantity(ctx, e.ProductID, e.Quantity); err != nil {
		return err
	}
	if e.IsExchange {
		// Swap ownership markers: the wanted item goes to the offerer,
		// the offered item goes to the accepter.
		if err := en.catalog.TransferOwner(ctx, e.ProductID, e.Buyer); err != nil {
			return err
		}
		if err := en.catalog.TransferOwner(ctx, e.ExchangeProductID, e.Seller); err != nil {
			return err
		}
	}

	e.Completed = true
	e.UpdatedAt = en.now()
	if err := en.store.Update(ctx, e); err != nil {
		return err
	}

	metrics.EscrowsTotal.WithLabelValues("completed").Inc()
	metrics.EscrowDuration.Observe(e.UpdatedAt.Sub(e.CreatedAt).Seconds())
	if en.notifier != nil {
		en.notifier.EscrowCompleted(e)
	}
	return nil
}

// Refund returns the locked payment to the buyer and the reserved stock
// to the product. The seller (or an admin) may refund at any time; the
// buyer alone only once the deadline has passed.
func (en *Engine) Refund(ctx context.Context, id int64, caller string, admin bool) (*Escrow, error) {
	unlock := en.lockEscrow(id)
	defer unlock()

	e, err := en.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Finalized() {
		return nil, ErrAlreadyFinalized
	}

	if !admin {
		if !e.Party(caller) {
			return nil, ErrUnauthorized
		}
		if strings.EqualFold(caller, e.Buyer) && en.now().Before(e.Deadline) {
			return nil, ErrDeadlineNotReached
		}
	}

	punlock := en.productLocks.Lock(e.ProductID)
	defer punlock()

	amt, _ := token.Parse(e.Amount, e.Denom)
	if amt.Sign() > 0 {
		if err := en.ledger.RefundEscrow(ctx, e.Buyer, e.Denom, e.Amount, escrowRef(e.ID)); err != nil {
			return nil, err
		}
	}
	if err := en.catalog.ReleaseQuantity(ctx, e.ProductID, e.Quantity); err != nil {
		return nil, err
	}

	e.Refunded = true
	e.UpdatedAt = en.now()
	if err := en.store.Update(ctx, e); err != nil {
		return nil, err
	}

	metrics.EscrowsTotal.WithLabelValues("refunded").Inc()
	if en.notifier != nil {
		en.notifier.EscrowRefunded(e)
	}
	return e, nil
}

// Get returns an escrow by ID.
func (en *Engine) Get(ctx context.Context, id int64) (*Escrow, error) {
	return en.store.Get(ctx, id)
}

// GetBatch returns the escrows for the given IDs, skipping unknown ones.
func (en *Engine) GetBatch(ctx context.Context, ids []int64) ([]*Escrow, error) {
	return en.store.GetBatch(ctx, ids)
}

// ListByUser returns escrows where addr is buyer or seller, newest first.
func (en *Engine) ListByUser(ctx context.Context, addr string, limit int) ([]*Escrow, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return en.store.ListByUser(ctx, strings.ToLower(addr), limit)
}

func (en *Engine) lockEscrow(id int64) func() {
	v, _ := en.escrowLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func validateCreate(qty int64, denom token.Denom) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if !denom.Valid() {
		return ErrInvalidDenom
	}
	return nil
}

// lineTotal computes price x quantity for the product in the chosen
// denomination from the catalog's authoritative price.
func lineTotal(prod *catalog.Product, denom token.Denom, qty int64) (*big.Int, error) {
	price := prod.TokenPrice
	if denom == token.DenomETH {
		price = prod.EthPrice
	}
	p, ok := token.Parse(price, denom)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return token.Mul(p, qty), nil
}

func escrowRef(id int64) string {
	return fmt.Sprintf("escrow:%d", id)
}
