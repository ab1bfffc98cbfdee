package ledger

import (
	"math/big"
	"time"

	"github.com/acethrift/ace/internal/token"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryDeposit       EntryType = "deposit"
	EntryWithdraw      EntryType = "withdraw"
	EntryTransferIn    EntryType = "transfer_in"
	EntryTransferOut   EntryType = "transfer_out"
	EntryEscrowLock    EntryType = "escrow_lock"
	EntryEscrowSettle  EntryType = "escrow_settle"  // buyer leg: escrowed funds paid out
	EntryEscrowRelease EntryType = "escrow_release" // seller leg: proceeds received
	EntryEscrowRefund  EntryType = "escrow_refund"
	EntryFee           EntryType = "fee" // treasury leg: platform fee received
)

// Entry is one immutable row in an account's ledger history.
type Entry struct {
	ID           int64       `json:"id"`
	Address      string      `json:"address"`
	Type         EntryType   `json:"type"`
	Denom        token.Denom `json:"denom"`
	Amount       string      `json:"amount"`
	Counterparty string      `json:"counterparty,omitempty"`
	Reference    string      `json:"reference,omitempty"` // escrow ID, tx hash, etc.
	CreatedAt    time.Time   `json:"createdAt"`
}

// RebuildBalance replays an account's entries in one denomination to
// reconstruct its balance. Used for reconciliation against the stored
// balance row.
func RebuildBalance(addr string, denom token.Denom, entries []*Entry) *Balance {
	available := big.NewInt(0)
	escrowed := big.NewInt(0)
	totalIn := big.NewInt(0)
	totalOut := big.NewInt(0)

	for _, e := range entries {
		if e.Denom != denom {
			continue
		}
		amt, ok := token.Parse(e.Amount, denom)
		if !ok {
			continue
		}
		switch e.Type {
		case EntryDeposit, EntryTransferIn, EntryEscrowRelease, EntryFee:
			available.Add(available, amt)
			totalIn.Add(totalIn, amt)
		case EntryWithdraw, EntryTransferOut:
			available.Sub(available, amt)
			totalOut.Add(totalOut, amt)
		case EntryEscrowLock:
			available.Sub(available, amt)
			escrowed.Add(escrowed, amt)
		case EntryEscrowRefund:
			escrowed.Sub(escrowed, amt)
			available.Add(available, amt)
		case EntryEscrowSettle:
			escrowed.Sub(escrowed, amt)
			totalOut.Add(totalOut, amt)
		}
	}

	return &Balance{
		Address:   addr,
		Denom:     denom,
		Available: token.Format(available, denom),
		Escrowed:  token.Format(escrowed, denom),
		TotalIn:   token.Format(totalIn, denom),
		TotalOut:  token.Format(totalOut, denom),
	}
}

// Reconcile compares a replayed balance against the stored one.
type ReconciliationResult struct {
	Address         string `json:"address"`
	Denom           string `json:"denom"`
	Match           bool   `json:"match"`
	ReplayAvailable string `json:"replayAvailable"`
	ReplayEscrowed  string `json:"replayEscrowed"`
	ActualAvailable string `json:"actualAvailable"`
	ActualEscrowed  string `json:"actualEscrowed"`
}

// Reconcile replays entries and diffs the result against actual.
func Reconcile(actual *Balance, entries []*Entry) *ReconciliationResult {
	replay := RebuildBalance(actual.Address, actual.Denom, entries)
	return &ReconciliationResult{
		Address:         actual.Address,
		Denom:           string(actual.Denom),
		Match:           replay.Available == actual.Available && replay.Escrowed == actual.Escrowed,
		ReplayAvailable: replay.Available,
		ReplayEscrowed:  replay.Escrowed,
		ActualAvailable: actual.Available,
		ActualEscrowed:  actual.Escrowed,
	}
}
