package refund

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tidemark/aftersale/internal/logging"
	"github.com/tidemark/aftersale/internal/metrics"
	"github.com/tidemark/aftersale/internal/money"
	"github.com/tidemark/aftersale/internal/order"
	"github.com/tidemark/aftersale/internal/storage"
	"github.com/tidemark/aftersale/internal/traces"
	"github.com/tidemark/aftersale/internal/wallet"
)

// Service owns every refund state transition. Each mutating method is
// one unit-of-work transaction: wallet lock first, then the refund row.
type Service struct {
	uow      storage.UnitOfWork
	store    Store
	orders   order.Store
	sync     *order.Synchronizer
	ledger   *wallet.Ledger
	disputes DisputeOpener
}

// NewService wires the refund engine.
func NewService(uow storage.UnitOfWork, store Store, orders order.Store, sync *order.Synchronizer, ledger *wallet.Ledger, disputes DisputeOpener) *Service {
	return &Service{
		uow:      uow,
		store:    store,
		orders:   orders,
		sync:     sync,
		ledger:   ledger,
		disputes: disputes,
	}
}

// SubmitRequest is the buyer's refund submission.
type SubmitRequest struct {
	OrderID       int64  `json:"orderId"`
	Kind          string `json:"kind" binding:"required"`
	GoodsReceived bool   `json:"goodsReceived"`
	Amount        string `json:"amount" binding:"required"`
	Reason        string `json:"reason" binding:"required"`
	Description   string `json:"description"`
}

// Submit creates the order's refund request, or resubmits a rejected
// one in place. The third submission for an order fails with
// ErrResubmissionLimit.
func (s *Service) Submit(ctx context.Context, buyerID int64, req SubmitRequest) (*Request, error) {
	ctx, span := traces.StartSpan(ctx, "refund.Submit",
		traces.OrderID(req.OrderID), traces.UserID(buyerID), traces.Amount(req.Amount))
	defer span.End()

	amountCents, err := money.ParseCents(req.Amount)
	if err != nil || amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Kind != KindRefundOnly && req.Kind != KindReturnRefund {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidAmount, req.Kind)
	}

	var result *Request
	err = s.uow.RunTx(ctx, func(tx storage.Tx) error {
		if err := s.ledger.Lock(ctx, tx, buyerID); err != nil {
			return err
		}
		existing, err := s.store.GetByOrderTx(ctx, tx, req.OrderID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		ord, err := s.orders.GetTx(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		if ord.BuyerID != buyerID {
			return ErrNotYourOrder
		}
		totalCents, err := money.ParseCents(ord.TotalAmount)
		if err != nil {
			return fmt.Errorf("order %d has unparseable total: %w", ord.ID, err)
		}
		if amountCents > totalCents {
			return ErrInvalidAmount
		}

		now := time.Now().UTC()
		if existing == nil {
			result = &Request{
				OrderID:       req.OrderID,
				BuyerID:       ord.BuyerID,
				SellerID:      ord.SellerID,
				Kind:          req.Kind,
				GoodsReceived: req.GoodsReceived,
				Amount:        req.Amount,
				Reason:        req.Reason,
				Description:   req.Description,
				Status:        StatusPendingApproval,
				Attempt:       1,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.store.CreateTx(ctx, tx, result); err != nil {
				return err
			}
			return s.sync.MarkAfterSales(ctx, tx, req.OrderID)
		}

		if existing.Attempt >= MaxAttempts {
			return ErrResubmissionLimit
		}
		if existing.Status != StatusRejected {
			if existing.IsTerminal() {
				return ErrInvalidStatus
			}
			return ErrAlreadyRequested
		}

		existing.Kind = req.Kind
		existing.GoodsReceived = req.GoodsReceived
		existing.Amount = req.Amount
		existing.Reason = req.Reason
		existing.Description = req.Description
		existing.Status = StatusPendingApproval
		existing.Attempt++
		existing.RejectCode = ""
		existing.RejectReason = ""
		existing.ReturnAddress = ""
		existing.TrackingNumber = ""
		existing.UpdatedAt = now
		if err := s.store.UpdateTx(ctx, tx, existing); err != nil {
			return err
		}
		result = existing
		return s.sync.MarkAfterSales(ctx, tx, req.OrderID)
	})
	if err != nil {
		return nil, err
	}

	metrics.RefundTransitionsTotal.WithLabelValues(StatusPendingApproval).Inc()
	return result, nil
}

// ApproveRequest is the seller's approval payload. ReturnAddress is
// required for return_refund requests and snapshotted onto the row.
type ApproveRequest struct {
	ReturnAddress string `json:"returnAddress"`
}

// Approve accepts a pending request. refund_only credits the buyer and
// completes immediately; return_refund moves to awaiting_return.
func (s *Service) Approve(ctx context.Context, sellerID, orderID int64, req ApproveRequest) (*Request, error) {
	ctx, span := traces.StartSpan(ctx, "refund.Approve",
		traces.OrderID(orderID), traces.UserID(sellerID))
	defer span.End()

	var result *Request
	err := s.inOrderTx(ctx, orderID, func(tx storage.Tx, r *Request) error {
		if r.SellerID != sellerID {
			return ErrNotYourOrder
		}
		if r.Status != StatusPendingApproval {
			return ErrInvalidStatus
		}

		switch r.Kind {
		case KindReturnRefund:
			if req.ReturnAddress == "" {
				return ErrReturnAddressRequired
			}
			r.ReturnAddress = req.ReturnAddress
			r.Status = StatusAwaitingReturn
		default:
			if err := s.creditBuyer(ctx, tx, r); err != nil {
				return err
			}
			r.Status = StatusCompleted
		}
		r.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateTx(ctx, tx, r); err != nil {
			return err
		}
		if r.Status == StatusCompleted {
			if err := s.sync.MarkCancelled(ctx, tx, orderID); err != nil {
				return err
			}
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RefundTransitionsTotal.WithLabelValues(result.Status).Inc()
	return result, nil
}

// DecisionRequest carries a seller's rejection or refusal reason.
type DecisionRequest struct {
	Code   string `json:"code" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// Reject declines a pending request. The second rejection escalates to
// a dispute instead of bouncing back to the buyer.
func (s *Service) Reject(ctx context.Context, sellerID, orderID int64, req DecisionRequest) (*Request, error) {
	var result *Request
	err := s.inOrderTx(ctx, orderID, func(tx storage.Tx, r *Request) error {
		if r.SellerID != sellerID {
			return ErrNotYourOrder
		}
		if r.Status != StatusPendingApproval {
			return ErrInvalidStatus
		}

		r.RejectCode = req.Code
		r.RejectReason = req.Reason
		if r.Attempt >= MaxAttempts {
			r.Status = StatusDisputeInProgress
		} else {
			r.Status = StatusRejected
		}
		r.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateTx(ctx, tx, r); err != nil {
			return err
		}
		if r.Status == StatusDisputeInProgress {
			if err := s.escalate(ctx, tx, r, req.Reason); err != nil {
				return err
			}
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RefundTransitionsTotal.WithLabelValues(result.Status).Inc()
	return result, nil
}

// ShipRequest carries the buyer's return tracking number.
type ShipRequest struct {
	TrackingNumber string `json:"trackingNumber" binding:"required"`
}

// ShipReturn records the buyer's return shipment and hands the request
// to the seller for confirmation.
func (s *Service) ShipReturn(ctx context.Context, buyerID, orderID int64, req ShipRequest) (*Request, error) {
	var result *Request
	err := s.inOrderTx(ctx, orderID, func(tx storage.Tx, r *Request) error {
		if r.BuyerID != buyerID {
			return ErrNotYourOrder
		}
		if r.Status != StatusAwaitingReturn {
			return ErrInvalidStatus
		}

		r.TrackingNumber = req.TrackingNumber
		r.Status = StatusAwaitingConfirm
		r.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateTx(ctx, tx, r); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RefundTransitionsTotal.WithLabelValues(StatusAwaitingConfirm).Inc()
	return result, nil
}

// ConfirmReturn acknowledges the returned goods, credits the buyer, and
// completes the request.
func (s *Service) ConfirmReturn(ctx context.Context, sellerID, orderID int64) (*Request, error) {
	ctx, span := traces.StartSpan(ctx, "refund.ConfirmReturn",
		traces.OrderID(orderID), traces.UserID(sellerID))
	defer span.End()

	var result *Request
	err := s.inOrderTx(ctx, orderID, func(tx storage.Tx, r *Request) error {
		if r.SellerID != sellerID {
			return ErrNotYourOrder
		}
		if r.Status != StatusAwaitingConfirm {
			return ErrInvalidStatus
		}

		if err := s.creditBuyer(ctx, tx, r); err != nil {
			return err
		}
		r.Status = StatusCompleted
		r.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateTx(ctx, tx, r); err != nil {
			return err
		}
		if err := s.sync.MarkCancelled(ctx, tx, orderID); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RefundTransitionsTotal.WithLabelValues(StatusCompleted).Inc()
	return result, nil
}

// RefuseReturn rejects the returned goods and escalates to a dispute,
// capturing the refusal reason.
func (s *Service) RefuseReturn(ctx context.Context, sellerID, orderID int64, req DecisionRequest) (*Request, error) {
	var result *Request
	err := s.inOrderTx(ctx, orderID, func(tx storage.Tx, r *Request) error {
		if r.SellerID != sellerID {
			return ErrNotYourOrder
		}
		if r.Status != StatusAwaitingConfirm {
			return ErrInvalidStatus
		}

		r.RejectCode = req.Code
		r.RejectReason = req.Reason
		r.Status = StatusDisputeInProgress
		r.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateTx(ctx, tx, r); err != nil {
			return err
		}
		if err := s.escalate(ctx, tx, r, req.Reason); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RefundTransitionsTotal.WithLabelValues(StatusDisputeInProgress).Inc()
	return result, nil
}

// Cancel lets the buyer withdraw a request that has not escalated.
// No money moves and the order keeps its after-sales marker.
func (s *Service) Cancel(ctx context.Context, buyerID, orderID int64) (*Request, error) {
	var result *Request
	err := s.inOrderTx(ctx, orderID, func(tx storage.Tx, r *Request) error {
		if r.BuyerID != buyerID {
			return ErrNotYourOrder
		}
		if r.IsTerminal() || r.Status == StatusDisputeInProgress {
			return ErrInvalidStatus
		}

		r.Status = StatusCancelled
		r.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateTx(ctx, tx, r); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RefundTransitionsTotal.WithLabelValues(StatusCancelled).Inc()
	return result, nil
}

// Get returns the order's refund request to a party or an admin.
func (s *Service) Get(ctx context.Context, callerID int64, isAdmin bool, orderID int64) (*Request, error) {
	r, err := s.store.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && r.BuyerID != callerID && r.SellerID != callerID {
		return nil, ErrNotYourOrder
	}
	return r, nil
}

// ListByBuyer returns the buyer's refund requests, newest first.
func (s *Service) ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]*Request, error) {
	return s.store.ListByBuyer(ctx, buyerID, limit)
}

// ListBySeller returns the seller's refund requests, newest first.
func (s *Service) ListBySeller(ctx context.Context, sellerID int64, limit int) ([]*Request, error) {
	return s.store.ListBySeller(ctx, sellerID, limit)
}

// inOrderTx runs fn inside one transaction with the standard lock
// order: the buyer's newest wallet row, then the order's refund row.
// The buyer is learned from an unlocked pre-read; the locked re-read
// inside the transaction is authoritative.
func (s *Service) inOrderTx(ctx context.Context, orderID int64, fn func(tx storage.Tx, r *Request) error) error {
	pre, err := s.store.GetByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return s.uow.RunTx(ctx, func(tx storage.Tx) error {
		if err := s.ledger.Lock(ctx, tx, pre.BuyerID); err != nil {
			return err
		}
		r, err := s.store.GetByOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		return fn(tx, r)
	})
}

// creditBuyer moves the requested amount into the buyer's wallet.
// Callers hold the wallet and refund locks and flip the status in the
// same transaction, which is what keeps the credit at-most-once.
func (s *Service) creditBuyer(ctx context.Context, tx storage.Tx, r *Request) error {
	cents, err := money.ParseCents(r.Amount)
	if err != nil {
		return fmt.Errorf("refund %d has unparseable amount: %w", r.ID, err)
	}
	desc := fmt.Sprintf("Refund for order #%d", r.OrderID)
	_, err = s.ledger.Append(ctx, tx, r.BuyerID, cents, desc, wallet.RefTypeRefund, strconv.FormatInt(r.ID, 10))
	return err
}

// escalate opens the dispute that takes over the case. The refund row
// is already dispute_in_progress; both writes commit or roll back
// together.
func (s *Service) escalate(ctx context.Context, tx storage.Tx, r *Request, reason string) error {
	disputeID, err := s.disputes.OpenTx(ctx, tx, Escalation{
		OrderID:    r.OrderID,
		RefundID:   r.ID,
		ReporterID: r.BuyerID,
		ReportedID: r.SellerID,
		Reason:     reason,
	})
	if err != nil {
		return err
	}
	logging.L(ctx).Info("refund escalated to dispute",
		"order_id", r.OrderID, "refund_id", r.ID, "dispute_id", disputeID)
	return nil
}
