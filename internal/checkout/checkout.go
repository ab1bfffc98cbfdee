// Package checkout coordinates multi-line cart settlement.
//
// A bulk purchase is an array of product/quantity pairs settled
// all-or-nothing: either every line gets its own escrow or nothing is
// reserved at all. Partial fills are never produced.
package checkout

import (
	"context"
	"errors"
	"strings"

	"github.com/acethrift/ace/internal/escrow"
	"github.com/acethrift/ace/internal/metrics"
	"github.com/acethrift/ace/internal/token"
)

var (
	ErrArrayLengthMismatch = errors.New("checkout: productIds and quantities differ in length")
	ErrBulkLimitExceeded   = errors.New("checkout: too many line items")
	ErrEmptyBatch          = errors.New("checkout: batch has no line items")
)

// BulkEngine opens the per-line escrows of a validated batch.
type BulkEngine interface {
	CreateBatch(ctx context.Context, buyer string, denom token.Denom, lines []escrow.Line, claimedTotal string) ([]*escrow.Escrow, error)
}

// Notifier receives the aggregate batch event. Fire-and-forget.
type Notifier interface {
	BulkPurchaseInitiated(buyer string, escrows []*escrow.Escrow)
}

// Coordinator validates and settles bulk purchases.
type Coordinator struct {
	engine   BulkEngine
	maxLines int
	notifier Notifier
}

// NewCoordinator creates a new bulk settlement coordinator.
func NewCoordinator(engine BulkEngine, maxLines int) *Coordinator {
	return &Coordinator{engine: engine, maxLines: maxLines}
}

// WithNotifier adds a batch event notifier.
func (co *Coordinator) WithNotifier(n Notifier) *Coordinator {
	co.notifier = n
	return co
}

// Request is a bulk purchase: parallel arrays of product IDs and
// quantities, plus the claimed total payment for the whole cart.
type Request struct {
	ProductIDs []string    `json:"productIds" binding:"required"`
	Quantities []int64     `json:"quantities" binding:"required"`
	Denom      token.Denom `json:"denom" binding:"required"`
	Total      string      `json:"total" binding:"required"`
}

// Purchase settles a cart. The claimed total must equal the sum of the
// catalog prices of every line; any line failing stock or availability
// rejects the whole batch with no partial reservation.
func (co *Coordinator) Purchase(ctx context.Context, buyer string, req Request) ([]*escrow.Escrow, error) {
	lines, err := co.zip(req)
	if err != nil {
		metrics.BulkSettlementsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	escrows, err := co.engine.CreateBatch(ctx, strings.ToLower(buyer), req.Denom, lines, req.Total)
	if err != nil {
		metrics.BulkSettlementsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	metrics.BulkSettlementsTotal.WithLabelValues("ok").Inc()
	metrics.BulkSettlementLines.Observe(float64(len(escrows)))
	if co.notifier != nil {
		co.notifier.BulkPurchaseInitiated(strings.ToLower(buyer), escrows)
	}
	return escrows, nil
}

// zip pairs the parallel arrays into typed lines after the length checks.
func (co *Coordinator) zip(req Request) ([]escrow.Line, error) {
	if len(req.ProductIDs) != len(req.Quantities) {
		return nil, ErrArrayLengthMismatch
	}
	if len(req.ProductIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(req.ProductIDs) > co.maxLines {
		return nil, ErrBulkLimitExceeded
	}

	lines := make([]escrow.Line, len(req.ProductIDs))
	for i, id := range req.ProductIDs {
		lines[i] = escrow.Line{ProductID: id, Quantity: req.Quantities[i]}
	}
	return lines, nil
}
