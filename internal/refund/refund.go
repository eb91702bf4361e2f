// Package refund drives the per-order refund and return lifecycle
// between buyer and seller.
//
// Exactly one request row exists per order; resubmission after a
// rejection mutates the row in place and bumps the attempt counter.
// Every transition runs inside a single unit-of-work transaction that
// takes its locks in the fixed order wallet, refund, dispute, so
// concurrent actions on the same order serialize at the storage layer.
package refund

import (
	"context"
	"errors"
	"time"

	"github.com/tidemark/aftersale/internal/storage"
)

// Statuses are persisted verbatim and part of the wire contract.
const (
	StatusPendingApproval   = "pending_approval"
	StatusRejected          = "rejected"
	StatusAwaitingReturn    = "awaiting_return"
	StatusAwaitingConfirm   = "awaiting_confirm"
	StatusDisputeInProgress = "dispute_in_progress"
	StatusCompleted         = "completed"
	StatusClosed            = "closed"
	StatusCancelled         = "cancelled"
)

// Refund kinds.
const (
	KindRefundOnly   = "refund_only"
	KindReturnRefund = "return_refund"
)

// MaxAttempts caps submissions per order. The second rejection
// escalates to a dispute instead of allowing a third round.
const MaxAttempts = 2

var (
	ErrNotFound              = errors.New("refund request not found")
	ErrResubmissionLimit     = errors.New("resubmission limit reached")
	ErrInvalidStatus         = errors.New("refund request is not in a state that allows this action")
	ErrNotYourOrder          = errors.New("caller is not a party to this order")
	ErrInvalidAmount         = errors.New("refund amount must be positive and at most the order total")
	ErrReturnAddressRequired = errors.New("return address is required to approve a return")
	ErrAlreadyRequested      = errors.New("an active refund request already exists for this order")
)

// Request is the one refund row per order.
type Request struct {
	ID             int64     `json:"id"`
	OrderID        int64     `json:"orderId"`
	BuyerID        int64     `json:"buyerId"`
	SellerID       int64     `json:"sellerId"`
	Kind           string    `json:"kind"`
	GoodsReceived  bool      `json:"goodsReceived"`
	Amount         string    `json:"amount"`
	Reason         string    `json:"reason"`
	Description    string    `json:"description,omitempty"`
	Status         string    `json:"status"`
	Attempt        int       `json:"attempt"`
	RejectCode     string    `json:"rejectCode,omitempty"`
	RejectReason   string    `json:"rejectReason,omitempty"`
	ReturnAddress  string    `json:"returnAddress,omitempty"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// IsTerminal reports whether the request has reached an absorbing
// status. Terminal rows never change again.
func (r *Request) IsTerminal() bool {
	switch r.Status {
	case StatusCompleted, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// Store persists refund requests.
type Store interface {
	CreateTx(ctx context.Context, tx storage.Tx, r *Request) error
	// GetByOrderTx returns the order's refund row under an exclusive
	// row lock, or ErrNotFound.
	GetByOrderTx(ctx context.Context, tx storage.Tx, orderID int64) (*Request, error)
	// UpdateTx writes the mutable columns of a previously locked row.
	UpdateTx(ctx context.Context, tx storage.Tx, r *Request) error
	GetByOrder(ctx context.Context, orderID int64) (*Request, error)
	ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]*Request, error)
	ListBySeller(ctx context.Context, sellerID int64, limit int) ([]*Request, error)
}

// Escalation carries what the dispute engine needs to open a case from
// a refund impasse.
type Escalation struct {
	OrderID    int64
	RefundID   int64
	ReporterID int64 // buyer
	ReportedID int64 // seller
	Reason     string
}

// DisputeOpener is the dispute engine as seen from this package.
// Defined here so the refund package does not import the dispute
// package; the server wires the concrete adapter.
type DisputeOpener interface {
	OpenTx(ctx context.Context, tx storage.Tx, esc Escalation) (string, error)
}
