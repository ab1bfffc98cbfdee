package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/acethrift/ace/internal/pagination"
)

// PostgresStore persists products in PostgreSQL. Stock mutations run as
// single guarded UPDATEs, so concurrent reservations can never oversell
// even without the service-level product lock.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const productColumns = `id, seller, name, description, category, size, condition, brand, gender,
	image_uri, token_price, eth_price, quantity, in_escrow_quantity,
	available_for_exchange, exchange_preference, sold, deleted, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, prod *Product) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		prod.ID, prod.Seller, prod.Name, nullString(prod.Description), nullString(prod.Category),
		nullString(prod.Size), nullString(prod.Condition), nullString(prod.Brand), nullString(prod.Gender),
		nullString(prod.ImageURI), prod.TokenPrice, prod.EthPrice, prod.Quantity, prod.InEscrowQuantity,
		prod.AvailableForExchange, nullString(prod.ExchangePreference), prod.Sold, prod.Deleted,
		prod.CreatedAt, prod.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Product, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	prod, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	return prod, err
}

func (p *PostgresStore) Update(ctx context.Context, prod *Product) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE products SET
			name = $2, description = $3, token_price = $4, eth_price = $5,
			image_uri = $6, available_for_exchange = $7, exchange_preference = $8,
			updated_at = $9
		WHERE id = $1
	`, prod.ID, prod.Name, nullString(prod.Description), prod.TokenPrice, prod.EthPrice,
		nullString(prod.ImageURI), prod.AvailableForExchange, nullString(prod.ExchangePreference),
		prod.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Product, string, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE deleted = FALSE`
	args := []interface{}{}
	n := 1

	add := func(clause string, val interface{}) {
		query += fmt.Sprintf(" AND "+clause, n)
		args = append(args, val)
		n++
	}

	if q.Seller != "" {
		add("seller = $%d", q.Seller)
	}
	if q.Category != "" {
		add("category = $%d", q.Category)
	}
	if q.Gender != "" {
		add("gender = $%d", q.Gender)
	}
	if q.ExchangeOnly {
		query += " AND available_for_exchange = TRUE"
	}
	if q.Cursor != "" {
		cur, err := pagination.Decode(q.Cursor)
		if err != nil {
			return nil, "", err
		}
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", n, n+1)
		args = append(args, cur.CreatedAt, cur.ID)
		n += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", n)
	args = append(args, q.Limit+1) // one extra row to detect a next page

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []*Product
	for rows.Next() {
		prod, err := scanProduct(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, prod)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	out, next, _ := pagination.ComputePage(out, q.Limit, func(p *Product) (time.Time, string) {
		return p.CreatedAt, p.ID
	})
	return out, next, nil
}

func (p *PostgresStore) Reserve(ctx context.Context, id string, qty int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE products SET
			quantity = quantity - $2,
			in_escrow_quantity = in_escrow_quantity + $2,
			updated_at = NOW()
		WHERE id = $1 AND deleted = FALSE AND sold = FALSE AND quantity >= $2
	`, id, qty)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return p.classifyReserveFailure(ctx, id)
	}
	return nil
}

// classifyReserveFailure distinguishes which precondition blocked a
// zero-row reserve update.
func (p *PostgresStore) classifyReserveFailure(ctx context.Context, id string) error {
	prod, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	if prod.Deleted || prod.Sold {
		return ErrProductUnavailable
	}
	return ErrInsufficientStock
}

func (p *PostgresStore) Release(ctx context.Context, id string, qty int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE products SET
			in_escrow_quantity = in_escrow_quantity - $2,
			quantity = quantity + $2,
			updated_at = NOW()
		WHERE id = $1 AND in_escrow_quantity >= $2
	`, id, qty)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) Commit(ctx context.Context, id string, qty int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE products SET
			in_escrow_quantity = in_escrow_quantity - $2,
			sold = (quantity = 0 AND in_escrow_quantity - $2 = 0),
			updated_at = NOW()
		WHERE id = $1 AND in_escrow_quantity >= $2
	`, id, qty)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) TransferOwner(ctx context.Context, id, newOwner string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE products SET seller = $2, updated_at = NOW() WHERE id = $1
	`, id, newOwner)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) MarkDeleted(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE products SET deleted = TRUE, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) CountListed(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE deleted = FALSE`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*Product, error) {
	var prod Product
	var description, category, size, condition, brand, gender, imageURI, pref sql.NullString
	err := row.Scan(
		&prod.ID, &prod.Seller, &prod.Name, &description, &category, &size, &condition, &brand, &gender,
		&imageURI, &prod.TokenPrice, &prod.EthPrice, &prod.Quantity, &prod.InEscrowQuantity,
		&prod.AvailableForExchange, &pref, &prod.Sold, &prod.Deleted, &prod.CreatedAt, &prod.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	prod.Description = description.String
	prod.Category = category.String
	prod.Size = size.String
	prod.Condition = condition.String
	prod.Brand = brand.String
	prod.Gender = gender.String
	prod.ImageURI = imageURI.String
	prod.ExchangePreference = pref.String
	return &prod, nil
}

func requireRow(result sql.Result) error {
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrProductNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
