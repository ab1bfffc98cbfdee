package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const addr = "0x1111111111111111111111111111111111111111"

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, key, err := m.GenerateKey(ctx, strings.ToUpper(addr), "laptop")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !strings.HasPrefix(raw, "sk_") {
		t.Errorf("raw key = %q, want sk_ prefix", raw)
	}
	if key.Address != addr {
		t.Errorf("address = %s, want lowercased %s", key.Address, addr)
	}
	if key.Hash == raw {
		t.Error("raw key stored instead of hash")
	}

	got, err := m.ValidateKey(ctx, "Bearer "+raw)
	if err != nil {
		t.Fatalf("ValidateKey: %v", err)
	}
	if got.ID != key.ID {
		t.Errorf("validated key ID = %s, want %s", got.ID, key.ID)
	}
}

func TestValidateRejections(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	if _, err := m.ValidateKey(ctx, ""); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("empty key: err = %v, want ErrNoAPIKey", err)
	}
	if _, err := m.ValidateKey(ctx, "pk_wrongprefix"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("bad prefix: err = %v, want ErrInvalidAPIKey", err)
	}
	if _, err := m.ValidateKey(ctx, "sk_deadbeef"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("unknown key: err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestRevokedKeyRejected(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, key, err := m.GenerateKey(ctx, addr, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := m.RevokeKey(ctx, key.ID, addr); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}
	if _, err := m.ValidateKey(ctx, raw); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("revoked key: err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestExpiredKeyRejected(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	raw, key, err := m.GenerateKey(ctx, addr, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	store.Update(ctx, key)

	if _, err := m.ValidateKey(ctx, raw); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expired key: err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestRevokeUnknownKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	if err := m.RevokeKey(context.Background(), "ak_missing", addr); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestListKeys(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	m.GenerateKey(ctx, addr, "one")
	m.GenerateKey(ctx, addr, "two")
	m.GenerateKey(ctx, "0x2222222222222222222222222222222222222222", "other")

	keys, err := m.ListKeys(ctx, addr)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("got %d keys, want 2", len(keys))
	}
}
