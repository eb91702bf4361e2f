package dispute

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/tidemark/aftersale/internal/storage"
)

// PostgresStore implements Store with PostgreSQL. Evidence references
// are TEXT[] columns handled through pq array types.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const disputeColumns = `id, order_id, refund_id, reporter_id, reported_id, reason, status,
	action_required_by, buyer_statement, seller_statement, buyer_evidence, seller_evidence,
	outcome, resolved_amount, reply_to_buyer, reply_to_seller, resolved_by, resolved_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispute(row rowScanner) (*Dispute, error) {
	d := &Dispute{}
	var buyerStatement, sellerStatement, outcome, resolvedAmount sql.NullString
	var replyToBuyer, replyToSeller sql.NullString
	var resolvedBy sql.NullInt64
	var resolvedAt sql.NullTime
	var buyerEvidence, sellerEvidence pq.StringArray
	err := row.Scan(&d.ID, &d.OrderID, &d.RefundID, &d.ReporterID, &d.ReportedID, &d.Reason,
		&d.Status, &d.ActionRequiredBy, &buyerStatement, &sellerStatement, &buyerEvidence,
		&sellerEvidence, &outcome, &resolvedAmount, &replyToBuyer, &replyToSeller, &resolvedBy,
		&resolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.BuyerStatement = buyerStatement.String
	d.SellerStatement = sellerStatement.String
	d.BuyerEvidence = buyerEvidence
	d.SellerEvidence = sellerEvidence
	d.Outcome = outcome.String
	d.ResolvedAmount = resolvedAmount.String
	d.ReplyToBuyer = replyToBuyer.String
	d.ReplyToSeller = replyToSeller.String
	d.ResolvedBy = resolvedBy.Int64
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return d, nil
}

func (p *PostgresStore) CreateTx(ctx context.Context, tx storage.Tx, d *Dispute) error {
	_, err := storage.AsSQL(tx).ExecContext(ctx, `
		INSERT INTO disputes (id, order_id, refund_id, reporter_id, reported_id, reason,
			status, action_required_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.OrderID, d.RefundID, d.ReporterID, d.ReportedID, d.Reason,
		d.Status, d.ActionRequiredBy, d.CreatedAt, d.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE id = $1
	`, id)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (p *PostgresStore) GetTx(ctx context.Context, tx storage.Tx, id string) (*Dispute, error) {
	row := storage.AsSQL(tx).QueryRowContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE id = $1
		FOR UPDATE
	`, id)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (p *PostgresStore) UpdateTx(ctx context.Context, tx storage.Tx, d *Dispute) error {
	var resolvedAt sql.NullTime
	if d.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *d.ResolvedAt, Valid: true}
	}
	var resolvedBy sql.NullInt64
	if d.ResolvedBy != 0 {
		resolvedBy = sql.NullInt64{Int64: d.ResolvedBy, Valid: true}
	}
	result, err := storage.AsSQL(tx).ExecContext(ctx, `
		UPDATE disputes
		SET status = $2, action_required_by = $3, buyer_statement = $4, seller_statement = $5,
			buyer_evidence = $6, seller_evidence = $7, outcome = NULLIF($8, ''),
			resolved_amount = NULLIF($9, '')::NUMERIC(12,2), reply_to_buyer = $10,
			reply_to_seller = $11, resolved_by = $12, resolved_at = $13, updated_at = $14
		WHERE id = $1
	`, d.ID, d.Status, d.ActionRequiredBy, d.BuyerStatement, d.SellerStatement,
		pq.StringArray(d.BuyerEvidence), pq.StringArray(d.SellerEvidence), d.Outcome,
		d.ResolvedAmount, d.ReplyToBuyer, d.ReplyToSeller, resolvedBy, resolvedAt, d.UpdatedAt)
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

// MarkInReview is the read-path hook: a single conditional update with
// no surrounding transaction, safe to lose to a concurrent writer.
func (p *PostgresStore) MarkInReview(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE disputes
		SET status = $2, action_required_by = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, StatusInReview, ActionAdmin, StatusOpen)
	return err
}

func (p *PostgresStore) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
		LIMIT $3
	`, StatusOpen, StatusInReview, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}
