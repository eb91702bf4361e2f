// Package storage provides the unit-of-work abstraction every mutating
// workflow runs inside.
//
// A workflow step opens exactly one transaction, acquires its row locks
// in a fixed order, and either commits everything or rolls back
// everything — partial application is never observable. Stores accept
// the opaque Tx handle so the same service code drives both the
// Postgres and the in-memory implementations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Tx is an opaque transaction handle passed through stores.
type Tx interface {
	sealed()
}

// UnitOfWork runs a function inside a single transaction with
// guaranteed commit-or-rollback on every exit path, including panics.
type UnitOfWork interface {
	RunTx(ctx context.Context, fn func(tx Tx) error) error
}

// -----------------------------------------------------------------------------
// SQL implementation
// -----------------------------------------------------------------------------

// SQLTx wraps a database transaction.
type SQLTx struct {
	*sql.Tx
}

func (*SQLTx) sealed() {}

// SQLUnitOfWork implements UnitOfWork on *sql.DB.
type SQLUnitOfWork struct {
	db *sql.DB
}

// NewSQL creates a SQL-backed unit of work.
func NewSQL(db *sql.DB) *SQLUnitOfWork {
	return &SQLUnitOfWork{db: db}
}

// RunTx begins a transaction, runs fn, and commits iff fn returns nil.
// The deferred rollback is a no-op after a successful commit and covers
// early returns and panics alike.
func (u *SQLUnitOfWork) RunTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&SQLTx{tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AsSQL unwraps a Tx produced by SQLUnitOfWork. Calling it with any
// other Tx kind is a wiring bug, not a runtime condition.
func AsSQL(tx Tx) *sql.Tx {
	s, ok := tx.(*SQLTx)
	if !ok {
		panic("storage: Tx is not a SQL transaction")
	}
	return s.Tx
}

// -----------------------------------------------------------------------------
// Memory implementation
// -----------------------------------------------------------------------------

// MemTx is the transaction handle handed out by MemoryUnitOfWork.
type MemTx struct{}

func (MemTx) sealed() {}

// MemoryUnitOfWork linearizes transactions behind a single mutex. It
// pairs with the packages' memory stores: unit tests get the same
// one-writer-at-a-time semantics the row locks give Postgres.
type MemoryUnitOfWork struct {
	mu sync.Mutex
}

// NewMemory creates a memory-backed unit of work.
func NewMemory() *MemoryUnitOfWork {
	return &MemoryUnitOfWork{}
}

// RunTx runs fn while holding the global lock.
func (u *MemoryUnitOfWork) RunTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return fn(MemTx{})
}
