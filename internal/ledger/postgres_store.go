package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/lib/pq"

	"github.com/acethrift/ace/internal/token"
)

// PostgresStore implements Store with PostgreSQL. Amounts are stored in
// smallest units as NUMERIC(78,0); bucket non-negativity is enforced by
// CHECK constraints, so overdrafts fail at the database level even under
// concurrent writers.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetBalance(ctx context.Context, addr string, denom token.Denom) (*Balance, error) {
	var available, escrowed, totalIn, totalOut string
	err := p.db.QueryRowContext(ctx, `
		SELECT available, escrowed, total_in, total_out
		FROM balances WHERE address = $1 AND denom = $2
	`, addr, string(denom)).Scan(&available, &escrowed, &totalIn, &totalOut)

	if err == sql.ErrNoRows {
		zero := token.Format(big.NewInt(0), denom)
		return &Balance{
			Address: addr, Denom: denom,
			Available: zero, Escrowed: zero, TotalIn: zero, TotalOut: zero,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Balance{
		Address: addr, Denom: denom,
		Available: formatUnits(available, denom),
		Escrowed:  formatUnits(escrowed, denom),
		TotalIn:   formatUnits(totalIn, denom),
		TotalOut:  formatUnits(totalOut, denom),
	}, nil
}

func (p *PostgresStore) Credit(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO balances (address, denom, available, total_in, updated_at)
			VALUES ($1, $2, $3::NUMERIC(78,0), $3::NUMERIC(78,0), NOW())
			ON CONFLICT (address, denom) DO UPDATE SET
				available  = balances.available + $3::NUMERIC(78,0),
				total_in   = balances.total_in  + $3::NUMERIC(78,0),
				updated_at = NOW()
		`, addr, string(denom), amount.String())
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		if ref != "" {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ledger_deposits (tx_hash) VALUES ($1)
			`, ref); err != nil {
				return fmt.Errorf("failed to record deposit hash: %w", err)
			}
		}
		return p.appendEntry(ctx, tx, addr, EntryDeposit, denom, amount, "", ref)
	})
}

func (p *PostgresStore) Debit(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if err := p.adjust(ctx, tx, addr, denom, `
			available = available - $3::NUMERIC(78,0),
			total_out = total_out + $3::NUMERIC(78,0)
		`, amount); err != nil {
			return err
		}
		return p.appendEntry(ctx, tx, addr, EntryWithdraw, denom, amount, "", ref)
	})
}

func (p *PostgresStore) Lock(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if err := p.adjust(ctx, tx, addr, denom, `
			available = available - $3::NUMERIC(78,0),
			escrowed  = escrowed  + $3::NUMERIC(78,0)
		`, amount); err != nil {
			return err
		}
		return p.appendEntry(ctx, tx, addr, EntryEscrowLock, denom, amount, "", ref)
	})
}

func (p *PostgresStore) Unlock(ctx context.Context, addr string, denom token.Denom, amount *big.Int, ref string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if err := p.adjust(ctx, tx, addr, denom, `
			escrowed  = escrowed  - $3::NUMERIC(78,0),
			available = available + $3::NUMERIC(78,0)
		`, amount); err != nil {
			if errors.Is(err, ErrInsufficientBalance) {
				return ErrInsufficientEscrowed
			}
			return err
		}
		return p.appendEntry(ctx, tx, addr, EntryEscrowRefund, denom, amount, "", ref)
	})
}

func (p *PostgresStore) Settle(ctx context.Context, from, to, treasury string, denom token.Denom, amount, fee *big.Int, ref string) error {
	proceeds := new(big.Int).Sub(amount, fee)

	return p.inTx(ctx, func(tx *sql.Tx) error {
		if err := p.adjust(ctx, tx, from, denom, `
			escrowed  = escrowed  - $3::NUMERIC(78,0),
			total_out = total_out + $3::NUMERIC(78,0)
		`, amount); err != nil {
			if errors.Is(err, ErrInsufficientBalance) {
				return ErrInsufficientEscrowed
			}
			return err
		}
		if err := p.appendEntry(ctx, tx, from, EntryEscrowSettle, denom, amount, to, ref); err != nil {
			return err
		}

		if err := p.upsertCredit(ctx, tx, to, denom, proceeds); err != nil {
			return err
		}
		if err := p.appendEntry(ctx, tx, to, EntryEscrowRelease, denom, proceeds, from, ref); err != nil {
			return err
		}

		if fee.Sign() > 0 && treasury != "" {
			if err := p.upsertCredit(ctx, tx, treasury, denom, fee); err != nil {
				return err
			}
			if err := p.appendEntry(ctx, tx, treasury, EntryFee, denom, fee, from, ref); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *PostgresStore) Transfer(ctx context.Context, from, to string, denom token.Denom, amount *big.Int, ref string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if err := p.adjust(ctx, tx, from, denom, `
			available = available - $3::NUMERIC(78,0),
			total_out = total_out + $3::NUMERIC(78,0)
		`, amount); err != nil {
			return err
		}
		if err := p.appendEntry(ctx, tx, from, EntryTransferOut, denom, amount, to, ref); err != nil {
			return err
		}
		if err := p.upsertCredit(ctx, tx, to, denom, amount); err != nil {
			return err
		}
		return p.appendEntry(ctx, tx, to, EntryTransferIn, denom, amount, from, ref)
	})
}

func (p *PostgresStore) SetAllowance(ctx context.Context, owner, spender string, denom token.Denom, amount *big.Int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO allowances (owner_address, spender, denom, amount, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC(78,0), NOW())
		ON CONFLICT (owner_address, spender, denom) DO UPDATE SET
			amount = $4::NUMERIC(78,0), updated_at = NOW()
	`, owner, spender, string(denom), amount.String())
	return err
}

func (p *PostgresStore) GetAllowance(ctx context.Context, owner, spender string, denom token.Denom) (*big.Int, error) {
	var raw string
	err := p.db.QueryRowContext(ctx, `
		SELECT amount FROM allowances
		WHERE owner_address = $1 AND spender = $2 AND denom = $3
	`, owner, spender, string(denom)).Scan(&raw)
	if err == sql.ErrNoRows {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amt, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("malformed allowance amount %q", raw)
	}
	return amt, nil
}

func (p *PostgresStore) ConsumeAllowance(ctx context.Context, owner, spender string, denom token.Denom, amount *big.Int) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE allowances SET
			amount = amount - $4::NUMERIC(78,0), updated_at = NOW()
		WHERE owner_address = $1 AND spender = $2 AND denom = $3
	`, owner, spender, string(denom), amount.String())
	if err != nil {
		if isCheckViolation(err) {
			return ErrInsufficientAllowance
		}
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInsufficientAllowance
	}
	return nil
}

func (p *PostgresStore) History(ctx context.Context, addr string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, address, type, denom, amount, counterparty, reference, created_at
		FROM ledger_entries
		WHERE address = $1
		ORDER BY id DESC
		LIMIT $2
	`, addr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// AllEntries returns every entry for an account, oldest first. Used by
// reconciliation replay.
func (p *PostgresStore) AllEntries(ctx context.Context, addr string) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, address, type, denom, amount, counterparty, reference, created_at
		FROM ledger_entries
		WHERE address = $1
		ORDER BY id ASC
	`, addr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (p *PostgresStore) HasDeposit(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM ledger_deposits WHERE tx_hash = $1)
	`, txHash).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// adjust applies a balance mutation to an existing row. setClause must use
// $3 for the amount. A CHECK violation maps to ErrInsufficientBalance.
func (p *PostgresStore) adjust(ctx context.Context, tx *sql.Tx, addr string, denom token.Denom, setClause string, amount *big.Int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE balances SET `+setClause+`, updated_at = NOW() WHERE address = $1 AND denom = $2`,
		addr, string(denom), amount.String())
	if err != nil {
		if isCheckViolation(err) {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("failed to update balance: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (p *PostgresStore) upsertCredit(ctx context.Context, tx *sql.Tx, addr string, denom token.Denom, amount *big.Int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (address, denom, available, total_in, updated_at)
		VALUES ($1, $2, $3::NUMERIC(78,0), $3::NUMERIC(78,0), NOW())
		ON CONFLICT (address, denom) DO UPDATE SET
			available  = balances.available + $3::NUMERIC(78,0),
			total_in   = balances.total_in  + $3::NUMERIC(78,0),
			updated_at = NOW()
	`, addr, string(denom), amount.String())
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

func (p *PostgresStore) appendEntry(ctx context.Context, tx *sql.Tx, addr string, typ EntryType, denom token.Denom, amount *big.Int, counterparty, ref string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (address, type, denom, amount, counterparty, reference, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(78,0), $5, $6, NOW())
	`, addr, string(typ), string(denom), amount.String(), nullString(counterparty), nullString(ref))
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		var e Entry
		var denom, raw string
		var counterparty, ref sql.NullString
		if err := rows.Scan(&e.ID, &e.Address, &e.Type, &denom, &raw, &counterparty, &ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Denom = token.Denom(denom)
		e.Amount = formatUnits(raw, e.Denom)
		e.Counterparty = counterparty.String
		e.Reference = ref.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

// formatUnits converts a smallest-unit NUMERIC string from the database
// into a decimal amount string.
func formatUnits(raw string, denom token.Denom) string {
	amt, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return token.Format(amt, denom)
}

func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
