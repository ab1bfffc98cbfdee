// Package ledger tracks account balances held in platform custody.
//
// Every account carries one balance per denomination (ACE token, native
// ETH), each split into an available bucket and an escrowed bucket:
//
//  1. Deposit credits available
//  2. Escrow creation moves available -> escrowed on the buyer
//  3. Escrow completion moves the buyer's escrowed funds to the seller's
//     available bucket, minus the platform fee paid to the treasury
//  4. Escrow refund moves escrowed back to the buyer's available bucket
//
// Token (ACE) spends additionally consume an ERC20-style allowance granted
// to the marketplace spender; native spends only need available balance.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/acethrift/ace/internal/token"
)

var (
	ErrInsufficientBalance   = errors.New("ledger: insufficient available balance")
	ErrInsufficientEscrowed  = errors.New("ledger: insufficient escrowed balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrAccountNotFound       = errors.New("ledger: account not found")
	ErrInvalidAmount         = errors.New("ledger: invalid amount")
	ErrDuplicateDeposit      = errors.New("ledger: deposit already processed")
)

// SpenderMarketplace is the allowance spender consumed by escrow locks.
const SpenderMarketplace = "marketplace"

// Balance is one account's position in a single denomination.
type Balance struct {
	Address   string      `json:"address"`
	Denom     token.Denom `json:"denom"`
	Available string      `json:"available"` // Spendable
	Escrowed  string      `json:"escrowed"`  // Locked against open escrows
	TotalIn   string      `json:"totalIn"`   // Lifetime credits
	TotalOut  string      `json:"totalOut"`  // Lifetime debits
}

// Store persists balances, allowances, and the entry log.
// Implementations must apply each mutation atomically.
type Store interface {
	GetBalance(ctx context.Context, addr string, denom token.Denom) (*Balance, error)
	Credit(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error
	Debit(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error
	Lock(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error
	Unlock(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error
	Settle(ctx context.Context, from, to, treasury string, denom token.Denom, amount, fee *big.Int, ref string) error
	Transfer(ctx context.Context, from, to string, denom token.Denom, amount *big.Int, ref string) error

	SetAllowance(ctx context.Context, owner, spender string, denom token.Denom, amount *big.Int) error
	GetAllowance(ctx context.Context, owner, spender string, denom token.Denom) (*big.Int, error)
	ConsumeAllowance(ctx context.Context, owner, spender string, denom token.Denom, amount *big.Int) error

	History(ctx context.Context, addr string, limit int) ([]*Entry, error)
	HasDeposit(ctx context.Context, txHash string) (bool, error)
}

// Ledger manages account balances.
type Ledger struct {
	store    Store
	treasury string
}

// New creates a new ledger. Platform fees settle into the treasury account.
func New(store Store, treasury string) *Ledger {
	return &Ledger{store: store, treasury: strings.ToLower(treasury)}
}

// Treasury returns the fee-collecting account address.
func (l *Ledger) Treasury() string {
	return l.treasury
}

// GetBalance returns an account's balance in the given denomination.
func (l *Ledger) GetBalance(ctx context.Context, addr string, denom token.Denom) (*Balance, error) {
	return l.store.GetBalance(ctx, strings.ToLower(addr), denom)
}

// Deposit credits an account (called when a deposit is observed).
// txHash deduplicates replayed deposit notifications.
func (l *Ledger) Deposit(ctx context.Context, addr string, denom token.Denom, amount, txHash string) error {
	amt, err := parsePositive(amount, denom)
	if err != nil {
		return err
	}
	if txHash != "" {
		exists, err := l.store.HasDeposit(ctx, txHash)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateDeposit
		}
	}
	return l.store.Credit(ctx, strings.ToLower(addr), denom, amt, txHash)
}

// Withdraw debits an account's available balance.
func (l *Ledger) Withdraw(ctx context.Context, addr string, denom token.Denom, amount, ref string) error {
	amt, err := parsePositive(amount, denom)
	if err != nil {
		return err
	}
	return l.store.Debit(ctx, strings.ToLower(addr), denom, amt, ref)
}

// Transfer moves available funds between two accounts.
func (l *Ledger) Transfer(ctx context.Context, from, to string, denom token.Denom, amount, ref string) error {
	amt, err := parsePositive(amount, denom)
	if err != nil {
		return err
	}
	return l.store.Transfer(ctx, strings.ToLower(from), strings.ToLower(to), denom, amt, ref)
}

// Approve grants the marketplace spender an allowance over the owner's
// token balance. The amount replaces any prior allowance (ERC20 approve
// semantics); zero revokes.
func (l *Ledger) Approve(ctx context.Context, owner string, denom token.Denom, amount string) error {
	amt, ok := token.Parse(amount, denom)
	if !ok || amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.store.SetAllowance(ctx, strings.ToLower(owner), SpenderMarketplace, denom, amt)
}

// Allowance returns the marketplace spender's remaining allowance.
func (l *Ledger) Allowance(ctx context.Context, owner string, denom token.Denom) (string, error) {
	amt, err := l.store.GetAllowance(ctx, strings.ToLower(owner), SpenderMarketplace, denom)
	if err != nil {
		return "", err
	}
	return token.Format(amt, denom), nil
}

// EscrowLock moves the buyer's funds from available to escrowed. Token
// denomination locks also consume the marketplace allowance; both checks
// happen before any mutation, so a failed lock leaves no partial effect.
func (l *Ledger) EscrowLock(ctx context.Context, buyer string, denom token.Denom, amount, ref string) error {
	amt, err := parsePositive(amount, denom)
	if err != nil {
		return err
	}
	buyer = strings.ToLower(buyer)

	if denom == token.DenomACE {
		if err := l.store.ConsumeAllowance(ctx, buyer, SpenderMarketplace, denom, amt); err != nil {
			return err
		}
	}
	if err := l.store.Lock(ctx, buyer, denom, amt, ref); err != nil {
		if denom == token.DenomACE {
			// Restore the consumed allowance; the lock never took effect.
			restoreErr := l.restoreAllowance(ctx, buyer, denom, amt)
			if restoreErr != nil {
				return errors.Join(err, restoreErr)
			}
		}
		return err
	}
	return nil
}

// ReleaseEscrow settles an escrow: the buyer's escrowed funds move to the
// seller's available bucket minus fee, which goes to the treasury.
func (l *Ledger) ReleaseEscrow(ctx context.Context, buyer, seller string, denom token.Denom, amount, fee, ref string) error {
	amt, err := parsePositive(amount, denom)
	if err != nil {
		return err
	}
	feeAmt, ok := token.Parse(fee, denom)
	if !ok || feeAmt.Sign() < 0 || feeAmt.Cmp(amt) > 0 {
		return ErrInvalidAmount
	}
	return l.store.Settle(ctx, strings.ToLower(buyer), strings.ToLower(seller), l.treasury, denom, amt, feeAmt, ref)
}

// RefundEscrow returns escrowed funds to the buyer's available bucket.
func (l *Ledger) RefundEscrow(ctx context.Context, buyer string, denom token.Denom, amount, ref string) error {
	amt, err := parsePositive(amount, denom)
	if err != nil {
		return err
	}
	return l.store.Unlock(ctx, strings.ToLower(buyer), denom, amt, ref)
}

// entryReplayer is implemented by both stores.
type entryReplayer interface {
	AllEntries(ctx context.Context, addr string) ([]*Entry, error)
}

// AllEntries returns an account's full entry log, oldest first.
func (l *Ledger) AllEntries(ctx context.Context, addr string) ([]*Entry, error) {
	r, ok := l.store.(entryReplayer)
	if !ok {
		return nil, errors.New("ledger: store does not support entry replay")
	}
	return r.AllEntries(ctx, strings.ToLower(addr))
}

// History returns an account's most recent ledger entries.
func (l *Ledger) History(ctx context.Context, addr string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return l.store.History(ctx, strings.ToLower(addr), limit)
}

func (l *Ledger) restoreAllowance(ctx context.Context, owner string, denom token.Denom, amt *big.Int) error {
	cur, err := l.store.GetAllowance(ctx, owner, SpenderMarketplace, denom)
	if err != nil {
		return err
	}
	return l.store.SetAllowance(ctx, owner, SpenderMarketplace, denom, new(big.Int).Add(cur, amt))
}

func parsePositive(amount string, denom token.Denom) (*big.Int, error) {
	amt, ok := token.Parse(amount, denom)
	if !ok || amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return amt, nil
}
