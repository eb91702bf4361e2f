package wallet

import (
	"context"
	"database/sql"

	"github.com/tidemark/aftersale/internal/storage"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, user_id, amount, balance, description, ref_type, ref_id, seq, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	e := &Entry{}
	var description, refType, refID sql.NullString
	err := row.Scan(&e.ID, &e.UserID, &e.Amount, &e.Balance, &description, &refType, &refID, &e.Seq, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Description = description.String
	e.RefType = refType.String
	e.RefID = refID.String
	return e, nil
}

// LatestTx locks and returns the user's newest entry. A per-user
// advisory lock is taken first: it covers the empty-chain case, where
// there is no newest row for FOR UPDATE to grab.
func (p *PostgresStore) LatestTx(ctx context.Context, tx storage.Tx, userID int64) (*Entry, error) {
	sqlTx := storage.AsSQL(tx)

	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return nil, err
	}

	row := sqlTx.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM wallet_entries
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT 1
		FOR UPDATE
	`, userID)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) InsertTx(ctx context.Context, tx storage.Tx, e *Entry) error {
	return storage.AsSQL(tx).QueryRowContext(ctx, `
		INSERT INTO wallet_entries (id, user_id, amount, balance, description, ref_type, ref_id, created_at)
		VALUES ($1, $2, $3::NUMERIC(12,2), $4::NUMERIC(12,2), $5, $6, $7, $8)
		RETURNING seq
	`, e.ID, e.UserID, e.Amount, e.Balance, e.Description, e.RefType, e.RefID, e.CreatedAt).Scan(&e.Seq)
}

func (p *PostgresStore) Latest(ctx context.Context, userID int64) (*Entry, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM wallet_entries
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, userID)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) List(ctx context.Context, userID int64, beforeSeq int64, limit int) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM wallet_entries
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`
	args := []any{userID, limit}
	if beforeSeq > 0 {
		query = `
			SELECT ` + entryColumns + `
			FROM wallet_entries
			WHERE user_id = $1 AND seq < $3
			ORDER BY seq DESC
			LIMIT $2
		`
		args = append(args, beforeSeq)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) ListAsc(ctx context.Context, userID int64) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM wallet_entries
		WHERE user_id = $1
		ORDER BY seq ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
