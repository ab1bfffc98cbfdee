package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/acethrift/ace/internal/testutil"
	"github.com/acethrift/ace/internal/token"
)

func ace(t *testing.T, amount string) *big.Int {
	t.Helper()
	v, ok := token.Parse(amount, token.DenomACE)
	if !ok {
		t.Fatalf("parse %q", amount)
	}
	return v
}

func TestPostgresStoreCreditDebit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	addr := "0xdddd000000000000000000000000000000000001"
	if err := store.Credit(ctx, addr, token.DenomACE, ace(t, "100"), "0xtx1"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := store.Debit(ctx, addr, token.DenomACE, ace(t, "30"), "withdraw"); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	bal, err := store.GetBalance(ctx, addr, token.DenomACE)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Available != "70.000000" {
		t.Errorf("available = %s, want 70.000000", bal.Available)
	}
	if bal.TotalIn != "100.000000" || bal.TotalOut != "30.000000" {
		t.Errorf("totals = %s/%s, want 100.000000/30.000000", bal.TotalIn, bal.TotalOut)
	}

	// Overdraft is rejected by the balance CHECK constraint
	if err := store.Debit(ctx, addr, token.DenomACE, ace(t, "1000"), "overdraft"); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("overdraft Debit = %v, want ErrInsufficientBalance", err)
	}

	// The processed deposit hash is recorded
	seen, err := store.HasDeposit(ctx, "0xtx1")
	if err != nil {
		t.Fatalf("HasDeposit: %v", err)
	}
	if !seen {
		t.Error("expected deposit hash to be recorded")
	}
}

func TestPostgresStoreEscrowBuckets(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	buyer := "0xdddd000000000000000000000000000000000002"
	seller := "0xdddd000000000000000000000000000000000003"
	treasury := "0xdddd0000000000000000000000000000000000fe"

	if err := store.Credit(ctx, buyer, token.DenomACE, ace(t, "50"), "0xtx2"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := store.Lock(ctx, buyer, token.DenomACE, ace(t, "20"), "escrow:1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	bal, _ := store.GetBalance(ctx, buyer, token.DenomACE)
	if bal.Available != "30.000000" || bal.Escrowed != "20.000000" {
		t.Errorf("after lock: available=%s escrowed=%s, want 30/20", bal.Available, bal.Escrowed)
	}

	// Settle pays the seller net of the fee, fee goes to the treasury
	if err := store.Settle(ctx, buyer, seller, treasury, token.DenomACE,
		ace(t, "20"), ace(t, "0.5"), "escrow:1"); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	bal, _ = store.GetBalance(ctx, buyer, token.DenomACE)
	if bal.Escrowed != "0.000000" {
		t.Errorf("buyer escrowed = %s, want 0", bal.Escrowed)
	}
	sellerBal, _ := store.GetBalance(ctx, seller, token.DenomACE)
	if sellerBal.Available != "19.500000" {
		t.Errorf("seller available = %s, want 19.500000", sellerBal.Available)
	}
	treasBal, _ := store.GetBalance(ctx, treasury, token.DenomACE)
	if treasBal.Available != "0.500000" {
		t.Errorf("treasury available = %s, want 0.500000", treasBal.Available)
	}
}

func TestPostgresStoreAllowances(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	owner := "0xdddd000000000000000000000000000000000004"
	if err := store.SetAllowance(ctx, owner, SpenderMarketplace, token.DenomACE, ace(t, "40")); err != nil {
		t.Fatalf("SetAllowance: %v", err)
	}
	if err := store.ConsumeAllowance(ctx, owner, SpenderMarketplace, token.DenomACE, ace(t, "15")); err != nil {
		t.Fatalf("ConsumeAllowance: %v", err)
	}

	left, err := store.GetAllowance(ctx, owner, SpenderMarketplace, token.DenomACE)
	if err != nil {
		t.Fatalf("GetAllowance: %v", err)
	}
	if want := ace(t, "25"); left.Cmp(want) != 0 {
		t.Errorf("allowance = %s, want %s", left, want)
	}

	if err := store.ConsumeAllowance(ctx, owner, SpenderMarketplace, token.DenomACE, ace(t, "100")); !errors.Is(err, ErrInsufficientAllowance) {
		t.Errorf("over-consume = %v, want ErrInsufficientAllowance", err)
	}
}
