package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/acethrift/ace/internal/testutil"
)

func pgProduct(id, seller string, qty int64) *Product {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Product{
		ID:         id,
		Seller:     seller,
		Name:       "Denim Jacket",
		TokenPrice: "10",
		EthPrice:   "0.01",
		Quantity:   qty,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestPostgresStoreLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	seller := "0xaaaa000000000000000000000000000000000001"
	if err := store.Create(ctx, pgProduct("prod_pg1", seller, 5)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.Reserve(ctx, "prod_pg1", 2); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	p, err := store.Get(ctx, "prod_pg1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Quantity != 3 || p.InEscrowQuantity != 2 {
		t.Errorf("after reserve: quantity=%d inEscrow=%d, want 3/2", p.Quantity, p.InEscrowQuantity)
	}

	if err := store.Release(ctx, "prod_pg1", 1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := store.Commit(ctx, "prod_pg1", 1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	p, _ = store.Get(ctx, "prod_pg1")
	if p.Quantity != 4 || p.InEscrowQuantity != 0 || p.Sold {
		t.Errorf("after release+commit: quantity=%d inEscrow=%d sold=%v, want 4/0/false",
			p.Quantity, p.InEscrowQuantity, p.Sold)
	}

	// Over-reserving fails without mutating
	if err := store.Reserve(ctx, "prod_pg1", 10); !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("Reserve over stock = %v, want ErrInsufficientStock", err)
	}

	if err := store.MarkDeleted(ctx, "prod_pg1"); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	if err := store.Reserve(ctx, "prod_pg1", 1); !errors.Is(err, ErrProductUnavailable) {
		t.Errorf("Reserve deleted = %v, want ErrProductUnavailable", err)
	}
	if n, _ := store.CountListed(ctx); n != 0 {
		t.Errorf("CountListed = %d, want 0", n)
	}
}

func TestPostgresStoreCommitLastUnitMarksSold(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	seller := "0xaaaa000000000000000000000000000000000002"
	if err := store.Create(ctx, pgProduct("prod_pg2", seller, 1)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Reserve(ctx, "prod_pg2", 1); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := store.Commit(ctx, "prod_pg2", 1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	p, _ := store.Get(ctx, "prod_pg2")
	if !p.Sold {
		t.Error("expected product marked sold after committing the last unit")
	}
}

func TestPostgresStoreListPagination(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	seller := "0xaaaa000000000000000000000000000000000003"
	for i, id := range []string{"prod_pga", "prod_pgb", "prod_pgc"} {
		p := pgProduct(id, seller, 1)
		p.CreatedAt = p.CreatedAt.Add(time.Duration(i) * time.Second)
		if err := store.Create(ctx, p); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	page1, cursor, err := store.List(ctx, Query{Seller: seller, Limit: 2})
	if err != nil {
		t.Fatalf("List page 1: %v", err)
	}
	if len(page1) != 2 || cursor == "" {
		t.Fatalf("page 1: got %d products, cursor %q; want 2 with cursor", len(page1), cursor)
	}

	page2, cursor2, err := store.List(ctx, Query{Seller: seller, Limit: 2, Cursor: cursor})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(page2) != 1 || cursor2 != "" {
		t.Errorf("page 2: got %d products, cursor %q; want 1 with empty cursor", len(page2), cursor2)
	}
	if page1[0].ID == page2[0].ID {
		t.Error("pages overlap")
	}
}
