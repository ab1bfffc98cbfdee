package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/acethrift/ace/internal/catalog"
	"github.com/acethrift/ace/internal/escrow"
	"github.com/acethrift/ace/internal/ledger"
	"github.com/acethrift/ace/internal/token"
)

const (
	buyer    = "0x1111111111111111111111111111111111111111"
	seller   = "0x2222222222222222222222222222222222222222"
	treasury = "0x3333333333333333333333333333333333333333"
)

type capture struct {
	buyer   string
	escrows []*escrow.Escrow
	calls   int
}

func (c *capture) BulkPurchaseInitiated(buyer string, escrows []*escrow.Escrow) {
	c.buyer = buyer
	c.escrows = escrows
	c.calls++
}

type harness struct {
	coordinator *Coordinator
	catalog     *catalog.Service
	ledger      *ledger.Ledger
	events      *capture
}

func newHarness(t *testing.T, maxLines int) *harness {
	t.Helper()
	led := ledger.New(ledger.NewMemoryStore(), treasury)
	cat := catalog.NewService(catalog.NewMemoryStore())
	eng := escrow.NewEngine(escrow.NewMemoryStore(), led, cat, 7*24*time.Hour, 250)
	events := &capture{}
	co := NewCoordinator(eng, maxLines).WithNotifier(events)
	return &harness{coordinator: co, catalog: cat, ledger: led, events: events}
}

var txSeq int

func (h *harness) fund(t *testing.T, amount string) {
	t.Helper()
	txSeq++
	ctx := context.Background()
	if err := h.ledger.Deposit(ctx, buyer, token.DenomACE, amount, fmt.Sprintf("0xtx%d", txSeq)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := h.ledger.Approve(ctx, buyer, token.DenomACE, amount); err != nil {
		t.Fatalf("Approve: %v", err)
	}
}

func (h *harness) list(t *testing.T, price string, qty int64) *catalog.Product {
	t.Helper()
	p, err := h.catalog.Create(context.Background(), catalog.CreateRequest{
		Seller: seller, Name: "flannel shirt", TokenPrice: price, EthPrice: "0.01", Quantity: qty,
	})
	if err != nil {
		t.Fatalf("list product: %v", err)
	}
	return p
}

func TestPurchaseCart(t *testing.T) {
	h := newHarness(t, 20)
	ctx := context.Background()
	p1 := h.list(t, "10", 5)
	p2 := h.list(t, "7.5", 2)
	h.fund(t, "100")

	escrows, err := h.coordinator.Purchase(ctx, buyer, Request{
		ProductIDs: []string{p1.ID, p2.ID},
		Quantities: []int64{2, 2},
		Denom:      token.DenomACE,
		Total:      "35", // 2*10 + 2*7.5
	})
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if len(escrows) != 2 {
		t.Fatalf("got %d escrows, want 2", len(escrows))
	}
	if h.events.calls != 1 || len(h.events.escrows) != 2 || h.events.buyer != buyer {
		t.Errorf("aggregate event not emitted once with all escrows: %+v", h.events)
	}

	got, _ := h.catalog.Get(ctx, p2.ID)
	if got.Quantity != 0 || got.InEscrowQuantity != 2 {
		t.Errorf("p2 stock = %d/%d, want 0/2", got.Quantity, got.InEscrowQuantity)
	}
}

func TestValidationUpFront(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	p := h.list(t, "10", 5)

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"length mismatch", Request{ProductIDs: []string{p.ID}, Quantities: []int64{1, 2}, Denom: token.DenomACE, Total: "10"}, ErrArrayLengthMismatch},
		{"empty", Request{Denom: token.DenomACE, Total: "0"}, ErrEmptyBatch},
		{"over limit", Request{ProductIDs: []string{p.ID, p.ID, p.ID}, Quantities: []int64{1, 1, 1}, Denom: token.DenomACE, Total: "30"}, ErrBulkLimitExceeded},
	}
	for _, tc := range cases {
		if _, err := h.coordinator.Purchase(ctx, buyer, tc.req); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
	if h.events.calls != 0 {
		t.Errorf("rejected batches emitted %d events", h.events.calls)
	}
}

func TestFailedLineRejectsWholeBatch(t *testing.T) {
	h := newHarness(t, 20)
	ctx := context.Background()
	p1 := h.list(t, "10", 5)
	p2 := h.list(t, "10", 5)
	h.fund(t, "10000")

	_, err := h.coordinator.Purchase(ctx, buyer, Request{
		ProductIDs: []string{p1.ID, p2.ID},
		Quantities: []int64{1, 100},
		Denom:      token.DenomACE,
		Total:      "1010",
	})
	if !errors.Is(err, catalog.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	got, _ := h.catalog.Get(ctx, p1.ID)
	if got.Quantity != 5 || got.InEscrowQuantity != 0 {
		t.Errorf("p1 stock mutated by failed batch: %d/%d", got.Quantity, got.InEscrowQuantity)
	}
	bal, _ := h.ledger.GetBalance(ctx, buyer, token.DenomACE)
	if bal.Escrowed != "0.000000" {
		t.Errorf("buyer escrowed = %s after failed batch, want zero", bal.Escrowed)
	}
	if h.events.calls != 0 {
		t.Error("failed batch emitted an event")
	}
}

func TestPaymentMismatchRejected(t *testing.T) {
	h := newHarness(t, 20)
	p := h.list(t, "10", 5)
	h.fund(t, "100")

	_, err := h.coordinator.Purchase(context.Background(), buyer, Request{
		ProductIDs: []string{p.ID},
		Quantities: []int64{2},
		Denom:      token.DenomACE,
		Total:      "15",
	})
	if !errors.Is(err, escrow.ErrPaymentMismatch) {
		t.Errorf("err = %v, want ErrPaymentMismatch", err)
	}
}
