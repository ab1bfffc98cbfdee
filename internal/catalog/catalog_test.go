package catalog

import (
	"context"
	"errors"
	"testing"
	"time"
)

const (
	seller = "0x1111111111111111111111111111111111111111"
	buyer  = "0x2222222222222222222222222222222222222222"
)

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func listProduct(t *testing.T, s *Service, qty int64) *Product {
	t.Helper()
	p, err := s.Create(context.Background(), CreateRequest{
		Seller:     seller,
		Name:       "vintage denim jacket",
		Category:   "outerwear",
		TokenPrice: "10",
		EthPrice:   "0.01",
		Quantity:   qty,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func TestCreateAndGet(t *testing.T) {
	s := newTestService()
	p := listProduct(t, s, 5)

	got, err := s.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Quantity != 5 || got.InEscrowQuantity != 0 {
		t.Errorf("stock = %d/%d, want 5/0", got.Quantity, got.InEscrowQuantity)
	}
	if got.Seller != seller {
		t.Errorf("seller = %s, want %s", got.Seller, seller)
	}
}

func TestCreateRejectsZeroQuantity(t *testing.T) {
	s := newTestService()
	_, err := s.Create(context.Background(), CreateRequest{
		Seller: seller, Name: "scarf", TokenPrice: "1", EthPrice: "0", Quantity: 0,
	})
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("err = %v, want ErrInvalidQuantity", err)
	}
}

func TestReserveReleaseCommit(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	p := listProduct(t, s, 5)

	if err := s.ReserveQuantity(ctx, p.ID, 2); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	got, _ := s.Get(ctx, p.ID)
	if got.Quantity != 3 || got.InEscrowQuantity != 2 {
		t.Fatalf("after reserve stock = %d/%d, want 3/2", got.Quantity, got.InEscrowQuantity)
	}

	if err := s.ReleaseQuantity(ctx, p.ID, 1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := s.CommitQuantity(ctx, p.ID, 1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, _ = s.Get(ctx, p.ID)
	if got.Quantity != 4 || got.InEscrowQuantity != 0 {
		t.Errorf("final stock = %d/%d, want 4/0", got.Quantity, got.InEscrowQuantity)
	}
	if got.Sold {
		t.Error("product marked sold with stock remaining")
	}
}

func TestReserveInsufficientStock(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	p := listProduct(t, s, 2)

	err := s.ReserveQuantity(ctx, p.ID, 3)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("err = %v, want ErrInsufficientStock", err)
	}
	got, _ := s.Get(ctx, p.ID)
	if got.Quantity != 2 || got.InEscrowQuantity != 0 {
		t.Errorf("failed reserve mutated stock: %d/%d", got.Quantity, got.InEscrowQuantity)
	}
}

func TestCommitLastUnitMarksSold(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	p := listProduct(t, s, 1)

	if err := s.ReserveQuantity(ctx, p.ID, 1); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := s.CommitQuantity(ctx, p.ID, 1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, _ := s.Get(ctx, p.ID)
	if !got.Sold {
		t.Error("product not marked sold after last unit committed")
	}
	if err := s.ReserveQuantity(ctx, p.ID, 1); !errors.Is(err, ErrProductUnavailable) {
		t.Errorf("reserve on sold product: err = %v, want ErrProductUnavailable", err)
	}
}

func TestUpdateOwnership(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	p := listProduct(t, s, 1)

	name := "renamed jacket"
	if _, err := s.Update(ctx, p.ID, buyer, UpdateRequest{Name: &name}); !errors.Is(err, ErrNotSeller) {
		t.Errorf("non-seller update: err = %v, want ErrNotSeller", err)
	}

	got, err := s.Update(ctx, p.ID, seller, UpdateRequest{Name: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != name {
		t.Errorf("name = %q, want %q", got.Name, name)
	}
}

func TestDeleteKeepsReservations(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	p := listProduct(t, s, 3)

	if err := s.ReserveQuantity(ctx, p.ID, 2); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := s.Delete(ctx, p.ID, seller); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Existing reservations still resolve and release.
	got, err := s.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if !got.Deleted {
		t.Error("product not marked deleted")
	}
	if err := s.ReleaseQuantity(ctx, p.ID, 2); err != nil {
		t.Errorf("release on deleted product: %v", err)
	}

	// But no new reservations.
	if err := s.ReserveQuantity(ctx, p.ID, 1); !errors.Is(err, ErrProductUnavailable) {
		t.Errorf("reserve on deleted product: err = %v, want ErrProductUnavailable", err)
	}
}

func TestDeleteOnlyBySeller(t *testing.T) {
	s := newTestService()
	p := listProduct(t, s, 1)
	if err := s.Delete(context.Background(), p.ID, buyer); !errors.Is(err, ErrNotSeller) {
		t.Errorf("err = %v, want ErrNotSeller", err)
	}
}

func TestTransferOwner(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	p := listProduct(t, s, 1)

	if err := s.TransferOwner(ctx, p.ID, buyer); err != nil {
		t.Fatalf("TransferOwner: %v", err)
	}
	got, _ := s.Get(ctx, p.ID)
	if got.Seller != buyer {
		t.Errorf("seller = %s, want %s", got.Seller, buyer)
	}
}

func TestListFiltersAndPagination(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		listProduct(t, s, 1)
		time.Sleep(time.Millisecond)
	}
	if _, err := s.Create(ctx, CreateRequest{
		Seller: buyer, Name: "wool coat", Category: "outerwear",
		TokenPrice: "5", EthPrice: "0", Quantity: 1, AvailableForExchange: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	bySeller, _, err := s.List(ctx, Query{Seller: seller})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(bySeller) != 3 {
		t.Errorf("seller filter returned %d products, want 3", len(bySeller))
	}

	exchange, _, err := s.List(ctx, Query{ExchangeOnly: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(exchange) != 1 {
		t.Errorf("exchange filter returned %d products, want 1", len(exchange))
	}

	// Page through everything two at a time.
	page1, cursor, err := s.List(ctx, Query{Limit: 2})
	if err != nil {
		t.Fatalf("List page 1: %v", err)
	}
	if len(page1) != 2 || cursor == "" {
		t.Fatalf("page 1: %d products, cursor %q", len(page1), cursor)
	}
	page2, cursor2, err := s.List(ctx, Query{Limit: 2, Cursor: cursor})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(page2) != 2 || cursor2 != "" {
		t.Errorf("page 2: %d products, cursor %q", len(page2), cursor2)
	}
	if page1[0].ID == page2[0].ID {
		t.Error("pages overlap")
	}
}

func TestDeletedProductsHiddenFromList(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	p := listProduct(t, s, 1)
	listProduct(t, s, 1)

	if err := s.Delete(ctx, p.ID, seller); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	products, _, err := s.List(ctx, Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(products) != 1 {
		t.Errorf("list returned %d products, want 1", len(products))
	}
	n, err := s.CountListed(ctx)
	if err != nil {
		t.Fatalf("CountListed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountListed = %d, want 1", n)
	}
}
