package exchange

import (
	"context"
	"database/sql"
)

// PostgresStore persists offers in PostgreSQL. The (wanted_product_id,
// offer_index) pair is unique, so a concurrent double-append loses the
// race at the constraint rather than producing duplicate indices.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed offer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const offerColumns = `wanted_product_id, offer_index, offered_product_id, offerer,
	token_top_up, active, escrow_id, created_at, updated_at`

func (p *PostgresStore) Append(ctx context.Context, o *Offer) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO exchange_offers (`+offerColumns+`)
		VALUES ($1,
			(SELECT COALESCE(MAX(offer_index) + 1, 0) FROM exchange_offers WHERE wanted_product_id = $1),
			$2, $3, $4, $5, $6, $7, $8)
		RETURNING offer_index
	`, o.WantedProductID, o.OfferedProductID, o.Offerer,
		o.TokenTopUp, o.Active, nullInt64(o.EscrowID), o.CreatedAt, o.UpdatedAt,
	).Scan(&o.Index)
}

func (p *PostgresStore) Get(ctx context.Context, wantedProductID string, index int) (*Offer, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+offerColumns+` FROM exchange_offers
		WHERE wanted_product_id = $1 AND offer_index = $2
	`, wantedProductID, index)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	return o, err
}

func (p *PostgresStore) Update(ctx context.Context, o *Offer) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE exchange_offers SET active = $3, escrow_id = $4, updated_at = $5
		WHERE wanted_product_id = $1 AND offer_index = $2
	`, o.WantedProductID, o.Index, o.Active, nullInt64(o.EscrowID), o.UpdatedAt)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOfferNotFound
	}
	return nil
}

func (p *PostgresStore) ListByProduct(ctx context.Context, wantedProductID string) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+offerColumns+` FROM exchange_offers
		WHERE wanted_product_id = $1 ORDER BY offer_index
	`, wantedProductID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOffers(rows)
}

func (p *PostgresStore) ListByOfferer(ctx context.Context, addr string) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+offerColumns+` FROM exchange_offers
		WHERE offerer = $1 ORDER BY created_at DESC
	`, addr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOffers(rows)
}

func scanOffer(row interface{ Scan(...interface{}) error }) (*Offer, error) {
	var o Offer
	var escrowID sql.NullInt64
	err := row.Scan(
		&o.WantedProductID, &o.Index, &o.OfferedProductID, &o.Offerer,
		&o.TokenTopUp, &o.Active, &escrowID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.EscrowID = escrowID.Int64
	return &o, nil
}

func collectOffers(rows *sql.Rows) ([]*Offer, error) {
	var out []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
