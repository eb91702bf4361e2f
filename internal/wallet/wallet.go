// Package wallet is the platform's internal money ledger.
//
// Balances are event-sourced: every change appends an immutable entry
// carrying the signed amount and the resulting balance, and a user's
// current balance is by definition the balance on their newest entry.
// Nothing outside this package writes wallet entries, and entries are
// never updated or deleted.
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/tidemark/aftersale/internal/idgen"
	"github.com/tidemark/aftersale/internal/metrics"
	"github.com/tidemark/aftersale/internal/money"
	"github.com/tidemark/aftersale/internal/storage"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// Reference types tying an entry to the business event that caused it.
const (
	RefTypeRefund     = "refund"
	RefTypeDispute    = "dispute"
	RefTypeAdjustment = "adjustment"
)

// Entry is one immutable link in a user's balance chain.
type Entry struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"userId"`
	Amount      string    `json:"amount"`  // signed, e.g. "-40.00"
	Balance     string    `json:"balance"` // balance after this entry
	Description string    `json:"description,omitempty"`
	RefType     string    `json:"refType,omitempty"`
	RefID       string    `json:"refId,omitempty"`
	Seq         int64     `json:"seq"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists wallet entries.
type Store interface {
	// LatestTx returns the user's newest entry under an exclusive row
	// lock, or nil if the user has no entries yet. The lock is held
	// until the surrounding transaction ends.
	LatestTx(ctx context.Context, tx storage.Tx, userID int64) (*Entry, error)
	// InsertTx appends an entry inside the transaction.
	InsertTx(ctx context.Context, tx storage.Tx, e *Entry) error
	// Latest returns the newest entry without locking, or nil.
	Latest(ctx context.Context, userID int64) (*Entry, error)
	// List returns entries newest-first, up to limit, optionally after
	// the given seq (exclusive) for pagination.
	List(ctx context.Context, userID int64, beforeSeq int64, limit int) ([]*Entry, error)
	// ListAsc returns all entries in insertion order, for replay.
	ListAsc(ctx context.Context, userID int64) ([]*Entry, error)
}

// Ledger owns all balance mutations.
type Ledger struct {
	store Store
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Balance returns the user's current balance, "0.00" for a user with no
// entries.
func (l *Ledger) Balance(ctx context.Context, userID int64) (string, error) {
	latest, err := l.store.Latest(ctx, userID)
	if err != nil {
		return "", err
	}
	if latest == nil {
		return "0.00", nil
	}
	return latest.Balance, nil
}

// Lock acquires the exclusive lock on the user's newest entry without
// writing. Workflow transactions call this first so every mutating
// operation takes its locks in the same order: wallet, refund, dispute.
func (l *Ledger) Lock(ctx context.Context, tx storage.Tx, userID int64) error {
	_, err := l.store.LatestTx(ctx, tx, userID)
	return err
}

// Append writes a new entry inside the caller's transaction. The
// signed amount is in cents; the resulting balance is computed under
// the newest-entry lock. A debit that would drive the balance negative
// fails with ErrInsufficientFunds and writes nothing.
func (l *Ledger) Append(ctx context.Context, tx storage.Tx, userID int64, amountCents int64, description, refType, refID string) (string, error) {
	if amountCents == 0 {
		return "", ErrInvalidAmount
	}

	latest, err := l.store.LatestTx(ctx, tx, userID)
	if err != nil {
		return "", err
	}

	var balanceCents int64
	if latest != nil {
		balanceCents, err = money.ParseCents(latest.Balance)
		if err != nil {
			return "", err
		}
	}

	newBalance := balanceCents + amountCents
	if amountCents < 0 && newBalance < 0 {
		metrics.InsufficientFundsTotal.Inc()
		return "", ErrInsufficientFunds
	}

	entry := &Entry{
		ID:          idgen.WithPrefix("wl_"),
		UserID:      userID,
		Amount:      money.FormatCents(amountCents),
		Balance:     money.FormatCents(newBalance),
		Description: description,
		RefType:     refType,
		RefID:       refID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.store.InsertTx(ctx, tx, entry); err != nil {
		return "", err
	}

	direction := "credit"
	if amountCents < 0 {
		direction = "debit"
	}
	metrics.LedgerEntriesTotal.WithLabelValues(direction).Inc()

	return entry.Balance, nil
}

// History returns the user's entries newest-first.
func (l *Ledger) History(ctx context.Context, userID int64, beforeSeq int64, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.List(ctx, userID, beforeSeq, limit)
}
