// Package order exposes the marketplace's order master data to the
// after-sales core.
//
// Orders are owned by the catalog/checkout side of the platform; this
// core reads buyer, seller, and total for validation and writes nothing
// but the status field.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/tidemark/aftersale/internal/storage"
)

var ErrNotFound = errors.New("order not found")

// Status values this core reads or writes. Orders carry other statuses
// (paid, shipped, ...) owned by the checkout side; they pass through
// untouched.
const (
	// StatusAfterSales marks an order with an open refund request.
	StatusAfterSales = "After Sales Processing"
	// StatusCancelled is terminal and never reverted by this core.
	StatusCancelled = "cancelled"
)

// Order is the narrow view of an order this core needs.
type Order struct {
	ID          int64     `json:"id"`
	BuyerID     int64     `json:"buyerId"`
	SellerID    int64     `json:"sellerId"`
	TotalAmount string    `json:"totalAmount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store reads order master data and writes the status field back.
type Store interface {
	Get(ctx context.Context, id int64) (*Order, error)
	// GetTx reads an order inside a workflow transaction.
	GetTx(ctx context.Context, tx storage.Tx, id int64) (*Order, error)
	// UpdateStatusTx writes only the status column.
	UpdateStatusTx(ctx context.Context, tx storage.Tx, id int64, status string) error
}

// Synchronizer keeps the order's coarse status aligned with refund and
// dispute outcomes. It is a mapping, not a state machine: it marks
// orders as "in after-sales" on first submission and cancels them on
// buyer-favorable finalization, and that is all it does.
type Synchronizer struct {
	store Store
}

// NewSynchronizer creates a synchronizer over the given order store.
func NewSynchronizer(store Store) *Synchronizer {
	return &Synchronizer{store: store}
}

// MarkAfterSales sets the after-sales marker unless the order has
// already reached the terminal cancelled status.
func (s *Synchronizer) MarkAfterSales(ctx context.Context, tx storage.Tx, orderID int64) error {
	ord, err := s.store.GetTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if ord.Status == StatusCancelled || ord.Status == StatusAfterSales {
		return nil
	}
	return s.store.UpdateStatusTx(ctx, tx, orderID, StatusAfterSales)
}

// MarkCancelled sets the terminal cancelled status. Idempotent; a
// cancellation is never reverted.
func (s *Synchronizer) MarkCancelled(ctx context.Context, tx storage.Tx, orderID int64) error {
	ord, err := s.store.GetTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if ord.Status == StatusCancelled {
		return nil
	}
	return s.store.UpdateStatusTx(ctx, tx, orderID, StatusCancelled)
}
