package dispute

import (
	"context"
	"fmt"
	"time"

	"github.com/tidemark/aftersale/internal/idgen"
	"github.com/tidemark/aftersale/internal/logging"
	"github.com/tidemark/aftersale/internal/metrics"
	"github.com/tidemark/aftersale/internal/money"
	"github.com/tidemark/aftersale/internal/order"
	"github.com/tidemark/aftersale/internal/refund"
	"github.com/tidemark/aftersale/internal/storage"
	"github.com/tidemark/aftersale/internal/traces"
	"github.com/tidemark/aftersale/internal/wallet"
)

// Service owns dispute state. Resolution and closing run inside one
// unit-of-work transaction with the standard lock order: the buyer's
// newest wallet row, the refund row, then the dispute row.
type Service struct {
	uow     storage.UnitOfWork
	store   Store
	refunds refund.Store
	sync    *order.Synchronizer
	ledger  *wallet.Ledger
}

// NewService wires the dispute engine.
func NewService(uow storage.UnitOfWork, store Store, refunds refund.Store, sync *order.Synchronizer, ledger *wallet.Ledger) *Service {
	return &Service{
		uow:     uow,
		store:   store,
		refunds: refunds,
		sync:    sync,
		ledger:  ledger,
	}
}

// OpenTx creates a dispute inside the escalating refund transaction.
// This is the only way a dispute comes into existence.
func (s *Service) OpenTx(ctx context.Context, tx storage.Tx, esc refund.Escalation) (string, error) {
	now := time.Now().UTC()
	d := &Dispute{
		ID:               idgen.WithPrefix("dsp_"),
		OrderID:          esc.OrderID,
		RefundID:         esc.RefundID,
		ReporterID:       esc.ReporterID,
		ReportedID:       esc.ReportedID,
		Reason:           esc.Reason,
		Status:           StatusOpen,
		ActionRequiredBy: ActionBoth,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateTx(ctx, tx, d); err != nil {
		return "", err
	}
	metrics.DisputesOpenedTotal.Inc()
	return d.ID, nil
}

// Get returns a dispute to one of its parties or an admin. The first
// admin read of an Open dispute fires a best-effort transition to
// In Review; its failure is logged and swallowed, never surfaced.
func (s *Service) Get(ctx context.Context, callerID int64, isAdmin bool, id string) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && d.ReporterID != callerID && d.ReportedID != callerID {
		return nil, ErrNotParticipant
	}

	if isAdmin && d.Status == StatusOpen {
		if err := s.store.MarkInReview(ctx, id); err != nil {
			logging.L(ctx).Warn("in-review transition failed, serving dispute as-is",
				"dispute_id", id, "error", err)
		} else {
			d.Status = StatusInReview
			d.ActionRequiredBy = ActionAdmin
		}
	}
	return d, nil
}

// StatementRequest is a party's statement with evidence references.
type StatementRequest struct {
	Text     string   `json:"text" binding:"required"`
	Evidence []string `json:"evidence"`
}

// SubmitStatement records a party's one statement. The caller must be
// the dispute's buyer or seller and their role must still be
// outstanding in actionRequiredBy.
func (s *Service) SubmitStatement(ctx context.Context, callerID int64, id string, req StatementRequest) (*Dispute, error) {
	var result *Dispute
	err := s.uow.RunTx(ctx, func(tx storage.Tx) error {
		d, err := s.store.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.IsTerminal() {
			return ErrAlreadyResolved
		}

		var isBuyer bool
		switch callerID {
		case d.ReporterID:
			isBuyer = true
		case d.ReportedID:
			isBuyer = false
		default:
			return ErrNotParticipant
		}

		if !actionAllows(d.ActionRequiredBy, isBuyer) {
			return ErrNoActionRequired
		}
		if (isBuyer && d.BuyerStatement != "") || (!isBuyer && d.SellerStatement != "") {
			return ErrDuplicateStatement
		}

		if isBuyer {
			d.BuyerStatement = req.Text
			d.BuyerEvidence = req.Evidence
		} else {
			d.SellerStatement = req.Text
			d.SellerEvidence = req.Evidence
		}
		d.ActionRequiredBy = nextAction(d)
		d.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateTx(ctx, tx, d); err != nil {
			return err
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func actionAllows(action string, isBuyer bool) bool {
	switch action {
	case ActionBoth:
		return true
	case ActionBuyer:
		return isBuyer
	case ActionSeller:
		return !isBuyer
	}
	return false
}

// nextAction computes who still owes a statement after one lands. With
// both statements in, the case waits on the admin.
func nextAction(d *Dispute) string {
	switch {
	case d.BuyerStatement != "" && d.SellerStatement != "":
		return ActionAdmin
	case d.BuyerStatement == "":
		return ActionBuyer
	default:
		return ActionSeller
	}
}

// ResolveRequest is the admin's binding decision.
type ResolveRequest struct {
	Outcome       string `json:"outcome" binding:"required"`
	Amount        string `json:"amount"`
	ReplyToBuyer  string `json:"replyToBuyer" binding:"required"`
	ReplyToSeller string `json:"replyToSeller" binding:"required"`
}

// Resolve finalizes a non-terminal dispute. refund_seller closes the
// refund with no money movement and leaves the order alone.
// refund_buyer and partial credit the buyer exactly the resolved
// amount, complete the refund, and cancel the order. Everything
// commits or rolls back as one unit; a concurrent resolution loses the
// lock race and fails with ErrAlreadyResolved.
func (s *Service) Resolve(ctx context.Context, adminID int64, id string, req ResolveRequest) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Resolve",
		traces.DisputeID(id), traces.UserID(adminID), traces.Outcome(req.Outcome))
	defer span.End()

	if req.ReplyToBuyer == "" || req.ReplyToSeller == "" {
		return nil, ErrRepliesRequired
	}
	switch req.Outcome {
	case OutcomeRefundBuyer, OutcomeRefundSeller, OutcomePartial:
	default:
		return nil, ErrInvalidOutcome
	}

	// Unlocked pre-read to learn the parties; the locked re-read inside
	// the transaction is authoritative.
	pre, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var result *Dispute
	err = s.uow.RunTx(ctx, func(tx storage.Tx) error {
		if err := s.ledger.Lock(ctx, tx, pre.ReporterID); err != nil {
			return err
		}
		r, err := s.refunds.GetByOrderTx(ctx, tx, pre.OrderID)
		if err != nil {
			return err
		}
		d, err := s.store.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.IsTerminal() {
			return ErrAlreadyResolved
		}

		now := time.Now().UTC()
		switch req.Outcome {
		case OutcomeRefundSeller:
			r.Status = refund.StatusClosed
		default:
			amount, err := s.resolvedCents(req, r)
			if err != nil {
				return err
			}
			desc := fmt.Sprintf("Dispute resolution for order #%d", d.OrderID)
			if _, err := s.ledger.Append(ctx, tx, d.ReporterID, amount, desc, wallet.RefTypeDispute, d.ID); err != nil {
				return err
			}
			d.ResolvedAmount = money.FormatCents(amount)
			r.Status = refund.StatusCompleted
		}
		r.UpdatedAt = now
		if err := s.refunds.UpdateTx(ctx, tx, r); err != nil {
			return err
		}
		if req.Outcome != OutcomeRefundSeller {
			if err := s.sync.MarkCancelled(ctx, tx, d.OrderID); err != nil {
				return err
			}
		}

		d.Status = StatusResolved
		d.ActionRequiredBy = ActionNone
		d.Outcome = req.Outcome
		d.ReplyToBuyer = req.ReplyToBuyer
		d.ReplyToSeller = req.ReplyToSeller
		d.ResolvedBy = adminID
		d.ResolvedAt = &now
		d.UpdatedAt = now
		if err := s.store.UpdateTx(ctx, tx, d); err != nil {
			return err
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DisputesResolvedTotal.WithLabelValues(result.Outcome).Inc()
	metrics.DisputeResolutionDuration.Observe(result.ResolvedAt.Sub(result.CreatedAt).Seconds())
	logging.L(ctx).Info("dispute resolved",
		"dispute_id", result.ID, "outcome", result.Outcome, "resolved_by", adminID)
	return result, nil
}

// resolvedCents validates the money side of a buyer-favorable outcome.
// refund_buyer defaults to the full requested amount; partial requires
// an explicit amount no greater than it.
func (s *Service) resolvedCents(req ResolveRequest, r *refund.Request) (int64, error) {
	requested, err := money.ParseCents(r.Amount)
	if err != nil {
		return 0, fmt.Errorf("refund %d has unparseable amount: %w", r.ID, err)
	}
	if req.Amount == "" {
		if req.Outcome == OutcomePartial {
			return 0, ErrInvalidAmount
		}
		return requested, nil
	}
	amount, err := money.ParseCents(req.Amount)
	if err != nil || amount <= 0 || amount > requested {
		return 0, ErrInvalidAmount
	}
	return amount, nil
}

// CloseRequest is the admin's dismissal note.
type CloseRequest struct {
	Note string `json:"note" binding:"required"`
}

// Close dismisses a non-terminal dispute without money movement. The
// linked refund row is closed; the order keeps its current status.
func (s *Service) Close(ctx context.Context, adminID int64, id string, req CloseRequest) (*Dispute, error) {
	pre, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var result *Dispute
	err = s.uow.RunTx(ctx, func(tx storage.Tx) error {
		if err := s.ledger.Lock(ctx, tx, pre.ReporterID); err != nil {
			return err
		}
		r, err := s.refunds.GetByOrderTx(ctx, tx, pre.OrderID)
		if err != nil {
			return err
		}
		d, err := s.store.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.IsTerminal() {
			return ErrAlreadyResolved
		}

		now := time.Now().UTC()
		r.Status = refund.StatusClosed
		r.UpdatedAt = now
		if err := s.refunds.UpdateTx(ctx, tx, r); err != nil {
			return err
		}

		d.Status = StatusClosed
		d.ActionRequiredBy = ActionNone
		d.ReplyToBuyer = req.Note
		d.ReplyToSeller = req.Note
		d.ResolvedBy = adminID
		d.ResolvedAt = &now
		d.UpdatedAt = now
		if err := s.store.UpdateTx(ctx, tx, d); err != nil {
			return err
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.L(ctx).Info("dispute closed", "dispute_id", result.ID, "closed_by", adminID)
	return result, nil
}

// ListOpen returns the admin work queue, oldest first.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	return s.store.ListOpen(ctx, limit)
}
