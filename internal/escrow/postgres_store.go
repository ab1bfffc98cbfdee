package escrow

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/acethrift/ace/internal/token"
)

// PostgresStore persists escrows in PostgreSQL. IDs come from the table's
// BIGSERIAL sequence so they stay monotonic across restarts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, product_id, buyer, seller, denom, amount, quantity, deadline,
	buyer_confirmed, seller_confirmed, completed, refunded,
	is_exchange, exchange_product_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO escrows (product_id, buyer, seller, denom, amount, quantity, deadline,
			buyer_confirmed, seller_confirmed, completed, refunded,
			is_exchange, exchange_product_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`,
		e.ProductID, e.Buyer, e.Seller, string(e.Denom), e.Amount, e.Quantity, e.Deadline,
		e.BuyerConfirmed, e.SellerConfirmed, e.Completed, e.Refunded,
		e.IsExchange, nullString(e.ExchangeProductID), e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID)
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func (p *PostgresStore) GetBatch(ctx context.Context, ids []int64) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = ANY($1) ORDER BY id`,
		pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			buyer_confirmed = $2, seller_confirmed = $3,
			completed = $4, refunded = $5, updated_at = $6
		WHERE id = $1
	`, e.ID, e.BuyerConfirmed, e.SellerConfirmed, e.Completed, e.Refunded, e.UpdatedAt)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM escrows WHERE id = $1`, id)
	return err
}

func (p *PostgresStore) ListByUser(ctx context.Context, addr string, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE buyer = $1 OR seller = $1
		ORDER BY id DESC LIMIT $2
	`, addr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func (p *PostgresStore) QueryForAnalytics(ctx context.Context, seller string, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE ($1 = '' OR seller = $1)
		ORDER BY id DESC LIMIT $2
	`, seller, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func (p *PostgresStore) CountByState(ctx context.Context) (created, completed, refunded int64, err error) {
	err = p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT completed AND NOT refunded),
			COUNT(*) FILTER (WHERE completed),
			COUNT(*) FILTER (WHERE refunded)
		FROM escrows
	`).Scan(&created, &completed, &refunded)
	return created, completed, refunded, err
}

func scanEscrow(row interface{ Scan(...interface{}) error }) (*Escrow, error) {
	var e Escrow
	var denom string
	var exchangeProductID sql.NullString
	err := row.Scan(
		&e.ID, &e.ProductID, &e.Buyer, &e.Seller, &denom, &e.Amount, &e.Quantity, &e.Deadline,
		&e.BuyerConfirmed, &e.SellerConfirmed, &e.Completed, &e.Refunded,
		&e.IsExchange, &exchangeProductID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Denom = token.Denom(denom)
	e.ExchangeProductID = exchangeProductID.String
	return &e, nil
}

func collectEscrows(rows *sql.Rows) ([]*Escrow, error) {
	var out []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
