// Package dispute is the admin-mediated arbitration engine for refund
// impasses.
//
// A dispute exists only because a refund request escalated; it is never
// opened by direct user action. The admin's resolution is binding and
// terminal: it moves money at most once, closes or completes the linked
// refund row, and updates the order, all in one transaction.
package dispute

import (
	"context"
	"errors"
	"time"

	"github.com/tidemark/aftersale/internal/storage"
)

// Statuses are persisted verbatim and part of the wire contract.
const (
	StatusOpen     = "Open"
	StatusInReview = "In Review"
	StatusResolved = "Resolved"
	StatusClosed   = "Closed"
)

// ActionRequiredBy values. The server is authoritative: statement
// endpoints verify the submitter's role against this field.
const (
	ActionNone   = "None"
	ActionBuyer  = "Buyer"
	ActionSeller = "Seller"
	ActionBoth   = "Both"
	ActionAdmin  = "Admin"
)

// Resolution outcomes.
const (
	OutcomeRefundBuyer  = "refund_buyer"
	OutcomeRefundSeller = "refund_seller"
	OutcomePartial      = "partial"
)

var (
	ErrNotFound           = errors.New("dispute not found")
	ErrNotParticipant     = errors.New("caller is not a party to this dispute")
	ErrAlreadyResolved    = errors.New("dispute already reached a terminal state")
	ErrDuplicateStatement = errors.New("statement already submitted by this party")
	ErrNoActionRequired   = errors.New("no statement is outstanding for this party")
	ErrRepliesRequired    = errors.New("replies to both buyer and seller are required")
	ErrInvalidOutcome     = errors.New("unknown resolution outcome")
	ErrInvalidAmount      = errors.New("resolved amount must be positive and at most the refund amount")
)

// Dispute is one arbitration case, keyed to its order and refund row.
type Dispute struct {
	ID               string     `json:"id"`
	OrderID          int64      `json:"orderId"`
	RefundID         int64      `json:"refundId"`
	ReporterID       int64      `json:"reporterId"` // buyer
	ReportedID       int64      `json:"reportedId"` // seller
	Reason           string     `json:"reason"`
	Status           string     `json:"status"`
	ActionRequiredBy string     `json:"actionRequiredBy"`
	BuyerStatement   string     `json:"buyerStatement,omitempty"`
	SellerStatement  string     `json:"sellerStatement,omitempty"`
	BuyerEvidence    []string   `json:"buyerEvidence,omitempty"`
	SellerEvidence   []string   `json:"sellerEvidence,omitempty"`
	Outcome          string     `json:"outcome,omitempty"`
	ResolvedAmount   string     `json:"resolvedAmount,omitempty"`
	ReplyToBuyer     string     `json:"replyToBuyer,omitempty"`
	ReplyToSeller    string     `json:"replyToSeller,omitempty"`
	ResolvedBy       int64      `json:"resolvedBy,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// IsTerminal reports whether the dispute is Resolved or Closed.
func (d *Dispute) IsTerminal() bool {
	return d.Status == StatusResolved || d.Status == StatusClosed
}

// Store persists disputes.
type Store interface {
	CreateTx(ctx context.Context, tx storage.Tx, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	// GetTx returns the dispute under an exclusive row lock.
	GetTx(ctx context.Context, tx storage.Tx, id string) (*Dispute, error)
	// UpdateTx writes the mutable columns of a previously locked row.
	UpdateTx(ctx context.Context, tx storage.Tx, d *Dispute) error
	// MarkInReview flips Open to In Review outside any workflow
	// transaction. A no-op when the dispute is no longer Open.
	MarkInReview(ctx context.Context, id string) error
	// ListOpen returns non-terminal disputes, oldest first.
	ListOpen(ctx context.Context, limit int) ([]*Dispute, error)
}
