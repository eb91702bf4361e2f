package order

import (
	"context"
	"database/sql"

	"github.com/tidemark/aftersale/internal/storage"
)

// PostgresStore implements Store against the shared orders table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, buyer_id, seller_id, total_amount, status, created_at`

func scanOrder(row *sql.Row) (*Order, error) {
	ord := &Order{}
	err := row.Scan(&ord.ID, &ord.BuyerID, &ord.SellerID, &ord.TotalAmount, &ord.Status, &ord.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ord, nil
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1
	`, id)
	return scanOrder(row)
}

func (p *PostgresStore) GetTx(ctx context.Context, tx storage.Tx, id int64) (*Order, error) {
	row := storage.AsSQL(tx).QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1
	`, id)
	return scanOrder(row)
}

func (p *PostgresStore) UpdateStatusTx(ctx context.Context, tx storage.Tx, id int64, status string) error {
	result, err := storage.AsSQL(tx).ExecContext(ctx, `
		UPDATE orders SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
