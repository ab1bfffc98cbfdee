package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/acethrift/ace/internal/token"
)

// MemoryStore is a thread-safe in-memory ledger store for
// demo/development mode.
type MemoryStore struct {
	mu         sync.RWMutex
	balances   map[balanceKey]*memBalance
	allowances map[allowanceKey]*big.Int
	entries    []*Entry
	deposits   map[string]bool
	nextEntry  int64
}

type balanceKey struct {
	addr  string
	denom token.Denom
}

type allowanceKey struct {
	owner   string
	spender string
	denom   token.Denom
}

type memBalance struct {
	available *big.Int
	escrowed  *big.Int
	totalIn   *big.Int
	totalOut  *big.Int
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:   make(map[balanceKey]*memBalance),
		allowances: make(map[allowanceKey]*big.Int),
		deposits:   make(map[string]bool),
		nextEntry:  1,
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, addr string, denom token.Denom) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b := m.balances[balanceKey{addr, denom}]
	if b == nil {
		// Zero balance for unknown accounts; accounts materialize on first credit.
		b = &memBalance{
			available: big.NewInt(0), escrowed: big.NewInt(0),
			totalIn: big.NewInt(0), totalOut: big.NewInt(0),
		}
	}
	return &Balance{
		Address:   addr,
		Denom:     denom,
		Available: token.Format(b.available, denom),
		Escrowed:  token.Format(b.escrowed, denom),
		TotalIn:   token.Format(b.totalIn, denom),
		TotalOut:  token.Format(b.totalOut, denom),
	}, nil
}

func (m *MemoryStore) Credit(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balance(addr, denom)
	b.available.Add(b.available, amount)
	b.totalIn.Add(b.totalIn, amount)
	if ref != "" {
		m.deposits[ref] = true
	}
	m.append(addr, EntryDeposit, denom, amount, "", ref)
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balance(addr, denom)
	if b.available.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.available.Sub(b.available, amount)
	b.totalOut.Add(b.totalOut, amount)
	m.append(addr, EntryWithdraw, denom, amount, "", ref)
	return nil
}

func (m *MemoryStore) Lock(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balance(addr, denom)
	if b.available.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.available.Sub(b.available, amount)
	b.escrowed.Add(b.escrowed, amount)
	m.append(addr, EntryEscrowLock, denom, amount, "", ref)
	return nil
}

func (m *MemoryStore) Unlock(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balance(addr, denom)
	if b.escrowed.Cmp(amount) < 0 {
		return ErrInsufficientEscrowed
	}
	b.escrowed.Sub(b.escrowed, amount)
	b.available.Add(b.available, amount)
	m.append(addr, EntryEscrowRefund, denom, amount, "", ref)
	return nil
}

func (m *MemoryStore) Settle(ctx context.Context, from, to, treasury string, denom token.Denom, amount, fee *big.Int, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buyer := m.balance(from, denom)
	if buyer.escrowed.Cmp(amount) < 0 {
		return ErrInsufficientEscrowed
	}
	proceeds := new(big.Int).Sub(amount, fee)

	buyer.escrowed.Sub(buyer.escrowed, amount)
	buyer.totalOut.Add(buyer.totalOut, amount)
	m.append(from, EntryEscrowSettle, denom, amount, to, ref)

	sellerBal := m.balance(to, denom)
	sellerBal.available.Add(sellerBal.available, proceeds)
	sellerBal.totalIn.Add(sellerBal.totalIn, proceeds)
	m.append(to, EntryEscrowRelease, denom, proceeds, from, ref)

	if fee.Sign() > 0 && treasury != "" {
		t := m.balance(treasury, denom)
		t.available.Add(t.available, fee)
		t.totalIn.Add(t.totalIn, fee)
		m.append(treasury, EntryFee, denom, fee, from, ref)
	}
	return nil
}

func (m *MemoryStore) Transfer(ctx context.Context, from, to string, denom token.Denom, amount *big.Int, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.balance(from, denom)
	if src.available.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.available.Sub(src.available, amount)
	src.totalOut.Add(src.totalOut, amount)
	m.append(from, EntryTransferOut, denom, amount, to, ref)

	dst := m.balance(to, denom)
	dst.available.Add(dst.available, amount)
	dst.totalIn.Add(dst.totalIn, amount)
	m.append(to, EntryTransferIn, denom, amount, from, ref)
	return nil
}

func (m *MemoryStore) SetAllowance(ctx context.Context, owner, spender string, denom token.Denom, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.allowances[allowanceKey{owner, spender, denom}] = new(big.Int).Set(amount)
	return nil
}

func (m *MemoryStore) GetAllowance(ctx context.Context, owner, spender string, denom token.Denom) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if a, ok := m.allowances[allowanceKey{owner, spender, denom}]; ok {
		return new(big.Int).Set(a), nil
	}
	return big.NewInt(0), nil
}

func (m *MemoryStore) ConsumeAllowance(ctx context.Context, owner, spender string, denom token.Denom, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.allowances[allowanceKey{owner, spender, denom}]
	if !ok || a.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	a.Sub(a, amount)
	return nil
}

func (m *MemoryStore) History(ctx context.Context, addr string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	// Newest first.
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].Address == addr {
			cp := *m.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AllEntries returns every entry for an account, oldest first. Used by
// reconciliation replay.
func (m *MemoryStore) AllEntries(ctx context.Context, addr string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, e := range m.entries {
		if e.Address == addr {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) HasDeposit(ctx context.Context, txHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deposits[txHash], nil
}

// balance returns the mutable balance record, creating it if needed.
// Caller must hold the write lock.
func (m *MemoryStore) balance(addr string, denom token.Denom) *memBalance {
	key := balanceKey{addr, denom}
	b, ok := m.balances[key]
	if !ok {
		b = &memBalance{
			available: big.NewInt(0), escrowed: big.NewInt(0),
			totalIn: big.NewInt(0), totalOut: big.NewInt(0),
		}
		m.balances[key] = b
	}
	return b
}

// append records an entry. Caller must hold the write lock.
func (m *MemoryStore) append(addr string, typ EntryType, denom token.Denom, amount *big.Int, counterparty, ref string) {
	m.entries = append(m.entries, &Entry{
		ID:           m.nextEntry,
		Address:      addr,
		Type:         typ,
		Denom:        denom,
		Amount:       token.Format(amount, denom),
		Counterparty: counterparty,
		Reference:    ref,
		CreatedAt:    time.Now(),
	})
	m.nextEntry++
}
