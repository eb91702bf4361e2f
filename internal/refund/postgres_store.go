package refund

import (
	"context"
	"database/sql"

	"github.com/tidemark/aftersale/internal/storage"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed refund store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, order_id, buyer_id, seller_id, kind, goods_received, amount, reason,
	description, status, attempt, reject_code, reject_reason, return_address, tracking_number,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	r := &Request{}
	var description, rejectCode, rejectReason, returnAddress, trackingNumber sql.NullString
	err := row.Scan(&r.ID, &r.OrderID, &r.BuyerID, &r.SellerID, &r.Kind, &r.GoodsReceived,
		&r.Amount, &r.Reason, &description, &r.Status, &r.Attempt, &rejectCode, &rejectReason,
		&returnAddress, &trackingNumber, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Description = description.String
	r.RejectCode = rejectCode.String
	r.RejectReason = rejectReason.String
	r.ReturnAddress = returnAddress.String
	r.TrackingNumber = trackingNumber.String
	return r, nil
}

func (p *PostgresStore) CreateTx(ctx context.Context, tx storage.Tx, r *Request) error {
	return storage.AsSQL(tx).QueryRowContext(ctx, `
		INSERT INTO refund_requests (order_id, buyer_id, seller_id, kind, goods_received,
			amount, reason, description, status, attempt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC(12,2), $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, r.OrderID, r.BuyerID, r.SellerID, r.Kind, r.GoodsReceived, r.Amount, r.Reason,
		r.Description, r.Status, r.Attempt, r.CreatedAt, r.UpdatedAt).Scan(&r.ID)
}

func (p *PostgresStore) GetByOrderTx(ctx context.Context, tx storage.Tx, orderID int64) (*Request, error) {
	row := storage.AsSQL(tx).QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM refund_requests
		WHERE order_id = $1
		FOR UPDATE
	`, orderID)

	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) UpdateTx(ctx context.Context, tx storage.Tx, r *Request) error {
	result, err := storage.AsSQL(tx).ExecContext(ctx, `
		UPDATE refund_requests
		SET kind = $2, goods_received = $3, amount = $4::NUMERIC(12,2), reason = $5,
			description = $6, status = $7, attempt = $8, reject_code = $9, reject_reason = $10,
			return_address = $11, tracking_number = $12, updated_at = $13
		WHERE id = $1
	`, r.ID, r.Kind, r.GoodsReceived, r.Amount, r.Reason, r.Description, r.Status, r.Attempt,
		r.RejectCode, r.RejectReason, r.ReturnAddress, r.TrackingNumber, r.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetByOrder(ctx context.Context, orderID int64) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM refund_requests
		WHERE order_id = $1
	`, orderID)

	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]*Request, error) {
	return p.list(ctx, `buyer_id`, buyerID, limit)
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID int64, limit int) ([]*Request, error) {
	return p.list(ctx, `seller_id`, sellerID, limit)
}

func (p *PostgresStore) list(ctx context.Context, column string, userID int64, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM refund_requests
		WHERE `+column+` = $1
		ORDER BY updated_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}
