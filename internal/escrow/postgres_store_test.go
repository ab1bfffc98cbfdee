package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/acethrift/ace/internal/testutil"
	"github.com/acethrift/ace/internal/token"
)

func pgEscrow(buyer, seller string) *Escrow {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Escrow{
		ProductID: "prod_pg1",
		Buyer:     buyer,
		Seller:    seller,
		Denom:     token.DenomACE,
		Amount:    "20",
		Quantity:  2,
		Deadline:  now.Add(7 * 24 * time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgresStoreAssignsIDs(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	buyer := "0xbbbb000000000000000000000000000000000001"
	seller := "0xcccc000000000000000000000000000000000001"

	first := pgEscrow(buyer, seller)
	second := pgEscrow(buyer, seller)
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.ID == 0 || second.ID <= first.ID {
		t.Errorf("expected monotonic IDs, got %d then %d", first.ID, second.ID)
	}

	got, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Buyer != buyer || got.Amount != "20" || got.Denom != token.DenomACE {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestPostgresStoreUpdateAndCount(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	buyer := "0xbbbb000000000000000000000000000000000002"
	seller := "0xcccc000000000000000000000000000000000002"

	open := pgEscrow(buyer, seller)
	done := pgEscrow(buyer, seller)
	if err := store.Create(ctx, open); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, done); err != nil {
		t.Fatalf("Create: %v", err)
	}

	done.BuyerConfirmed = true
	done.SellerConfirmed = true
	done.Completed = true
	done.UpdatedAt = time.Now().UTC()
	if err := store.Update(ctx, done); err != nil {
		t.Fatalf("Update: %v", err)
	}

	created, completed, refunded, err := store.CountByState(ctx)
	if err != nil {
		t.Fatalf("CountByState: %v", err)
	}
	if created != 1 || completed != 1 || refunded != 0 {
		t.Errorf("CountByState = %d/%d/%d, want 1/1/0", created, completed, refunded)
	}

	batch, err := store.GetBatch(ctx, []int64{open.ID, done.ID, 999999})
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(batch) != 2 {
		t.Errorf("GetBatch returned %d escrows, want 2", len(batch))
	}

	mine, err := store.ListByUser(ctx, buyer, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("ListByUser returned %d escrows, want 2", len(mine))
	}

	all, err := store.QueryForAnalytics(ctx, "", 100)
	if err != nil {
		t.Fatalf("QueryForAnalytics: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("QueryForAnalytics returned %d escrows, want 2", len(all))
	}
	none, err := store.QueryForAnalytics(ctx, "0x0000000000000000000000000000000000000bad", 100)
	if err != nil {
		t.Fatalf("QueryForAnalytics filtered: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("filtered QueryForAnalytics returned %d escrows, want 0", len(none))
	}
}

func TestPostgresStoreDeleteRollback(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	e := pgEscrow(
		"0xbbbb000000000000000000000000000000000003",
		"0xcccc000000000000000000000000000000000003",
	)
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(ctx, e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, e.ID); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("Get after delete = %v, want ErrEscrowNotFound", err)
	}
}
