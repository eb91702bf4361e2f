package refund

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/aftersale/internal/order"
	"github.com/tidemark/aftersale/internal/storage"
	"github.com/tidemark/aftersale/internal/wallet"
)

const (
	buyerID  = int64(10)
	sellerID = int64(20)
	orderID  = int64(501)
)

type fakeDisputeOpener struct {
	opened []Escalation
}

func (f *fakeDisputeOpener) OpenTx(ctx context.Context, tx storage.Tx, esc Escalation) (string, error) {
	f.opened = append(f.opened, esc)
	return "dsp_test", nil
}

type fixture struct {
	svc      *Service
	ledger   *wallet.Ledger
	orders   *order.MemoryStore
	disputes *fakeDisputeOpener
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orders := order.NewMemoryStore()
	orders.Put(&order.Order{ID: orderID, BuyerID: buyerID, SellerID: sellerID, TotalAmount: "100.00", Status: "paid"})

	ledger := wallet.New(wallet.NewMemoryStore())
	disputes := &fakeDisputeOpener{}
	svc := NewService(storage.NewMemory(), NewMemoryStore(), orders, order.NewSynchronizer(orders), ledger, disputes)
	return &fixture{svc: svc, ledger: ledger, orders: orders, disputes: disputes}
}

func submitReq(amount string) SubmitRequest {
	return SubmitRequest{
		OrderID:       orderID,
		Kind:          KindRefundOnly,
		GoodsReceived: true,
		Amount:        amount,
		Reason:        "damaged item",
	}
}

func (f *fixture) orderStatus(t *testing.T) string {
	t.Helper()
	ord, err := f.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	return ord.Status
}

func (f *fixture) balance(t *testing.T, userID int64) string {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func TestSubmitCreatesRequest(t *testing.T) {
	f := newFixture(t)

	r, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, r.Status)
	assert.Equal(t, 1, r.Attempt)
	assert.Equal(t, sellerID, r.SellerID)
	assert.Equal(t, order.StatusAfterSales, f.orderStatus(t))
}

func TestSubmitAmountValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), buyerID, submitReq("0.00"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.svc.Submit(context.Background(), buyerID, submitReq("100.01"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// Full order total is fine.
	_, err = f.svc.Submit(context.Background(), buyerID, submitReq("100.00"))
	assert.NoError(t, err)
}

func TestSubmitWrongBuyer(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), 999, submitReq("40.00"))
	assert.ErrorIs(t, err, ErrNotYourOrder)
}

func TestSubmitUnknownOrder(t *testing.T) {
	f := newFixture(t)

	req := submitReq("40.00")
	req.OrderID = 777
	_, err := f.svc.Submit(context.Background(), buyerID, req)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestSubmitWhileActive(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	assert.ErrorIs(t, err, ErrAlreadyRequested)
}

func TestResubmitAfterRejection(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)

	_, err = f.svc.Reject(context.Background(), sellerID, orderID, DecisionRequest{Code: "R01", Reason: "not damaged"})
	require.NoError(t, err)

	second, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "resubmission mutates the same row")
	assert.Equal(t, 2, second.Attempt)
	assert.Equal(t, StatusPendingApproval, second.Status)
	assert.Empty(t, second.RejectCode)
	assert.Empty(t, second.RejectReason)
}

func TestThirdSubmissionFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)
	_, err = f.svc.Reject(context.Background(), sellerID, orderID, DecisionRequest{Code: "R01", Reason: "no"})
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)
	_, err = f.svc.Reject(context.Background(), sellerID, orderID, DecisionRequest{Code: "R01", Reason: "still no"})
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	assert.ErrorIs(t, err, ErrResubmissionLimit)

	// Second rejection escalated rather than bouncing back.
	r, err := f.svc.Get(context.Background(), buyerID, false, orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisputeInProgress, r.Status)
}

func TestApproveRefundOnly(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)

	r, err := f.svc.Approve(context.Background(), sellerID, orderID, ApproveRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, "40.00", f.balance(t, buyerID))
	assert.Equal(t, order.StatusCancelled, f.orderStatus(t))
}

func TestApproveWrongSeller(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), buyerID, orderID, ApproveRequest{})
	assert.ErrorIs(t, err, ErrNotYourOrder)
	assert.Equal(t, "0.00", f.balance(t, buyerID))
}

func TestApproveReturnRefundNeedsAddress(t *testing.T) {
	f := newFixture(t)

	req := submitReq("40.00")
	req.Kind = KindReturnRefund
	_, err := f.svc.Submit(context.Background(), buyerID, req)
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), sellerID, orderID, ApproveRequest{})
	assert.ErrorIs(t, err, ErrReturnAddressRequired)

	r, err := f.svc.Approve(context.Background(), sellerID, orderID, ApproveRequest{ReturnAddress: "12 Dock Rd"})
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingReturn, r.Status)
	assert.Equal(t, "12 Dock Rd", r.ReturnAddress)
	// No money moves until the return is confirmed.
	assert.Equal(t, "0.00", f.balance(t, buyerID))
}

func TestReturnFlowCompleted(t *testing.T) {
	f := newFixture(t)

	req := submitReq("100.00")
	req.Kind = KindReturnRefund
	_, err := f.svc.Submit(context.Background(), buyerID, req)
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), sellerID, orderID, ApproveRequest{ReturnAddress: "12 Dock Rd"})
	require.NoError(t, err)

	r, err := f.svc.ShipReturn(context.Background(), buyerID, orderID, ShipRequest{TrackingNumber: "SF123"})
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingConfirm, r.Status)

	r, err = f.svc.ConfirmReturn(context.Background(), sellerID, orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, "100.00", f.balance(t, buyerID))
	assert.Equal(t, order.StatusCancelled, f.orderStatus(t))
}

func TestRefuseReturnEscalates(t *testing.T) {
	f := newFixture(t)

	req := submitReq("40.00")
	req.Kind = KindReturnRefund
	_, err := f.svc.Submit(context.Background(), buyerID, req)
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), sellerID, orderID, ApproveRequest{ReturnAddress: "12 Dock Rd"})
	require.NoError(t, err)
	_, err = f.svc.ShipReturn(context.Background(), buyerID, orderID, ShipRequest{TrackingNumber: "SF123"})
	require.NoError(t, err)

	r, err := f.svc.RefuseReturn(context.Background(), sellerID, orderID, DecisionRequest{Code: "D02", Reason: "item not in box"})
	require.NoError(t, err)
	assert.Equal(t, StatusDisputeInProgress, r.Status)
	assert.Equal(t, "item not in box", r.RejectReason)

	require.Len(t, f.disputes.opened, 1)
	esc := f.disputes.opened[0]
	assert.Equal(t, orderID, esc.OrderID)
	assert.Equal(t, buyerID, esc.ReporterID)
	assert.Equal(t, sellerID, esc.ReportedID)
	assert.Equal(t, "0.00", f.balance(t, buyerID))
}

func TestSecondRejectionOpensDispute(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)
	_, err = f.svc.Reject(context.Background(), sellerID, orderID, DecisionRequest{Code: "R01", Reason: "no"})
	require.NoError(t, err)
	assert.Empty(t, f.disputes.opened)

	_, err = f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)
	r, err := f.svc.Reject(context.Background(), sellerID, orderID, DecisionRequest{Code: "R01", Reason: "still no"})
	require.NoError(t, err)
	assert.Equal(t, StatusDisputeInProgress, r.Status)
	require.Len(t, f.disputes.opened, 1)
	assert.Equal(t, r.ID, f.disputes.opened[0].RefundID)
}

func TestApproveTwiceCreditsOnce(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), sellerID, orderID, ApproveRequest{})
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), sellerID, orderID, ApproveRequest{})
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, "40.00", f.balance(t, buyerID))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)

	r, err := f.svc.Cancel(context.Background(), buyerID, orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, r.Status)
	// Cancellation is not buyer-favorable finalization.
	assert.Equal(t, order.StatusAfterSales, f.orderStatus(t))
}

func TestCancelAfterEscalationFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)
	_, err = f.svc.Reject(context.Background(), sellerID, orderID, DecisionRequest{Code: "R01", Reason: "no"})
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)
	_, err = f.svc.Reject(context.Background(), sellerID, orderID, DecisionRequest{Code: "R01", Reason: "no"})
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), buyerID, orderID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestGetAuthorization(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), buyerID, false, orderID)
	assert.NoError(t, err)
	_, err = f.svc.Get(context.Background(), sellerID, false, orderID)
	assert.NoError(t, err)
	_, err = f.svc.Get(context.Background(), 999, true, orderID)
	assert.NoError(t, err)
	_, err = f.svc.Get(context.Background(), 999, false, orderID)
	assert.ErrorIs(t, err, ErrNotYourOrder)
}

func TestListByRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), buyerID, submitReq("40.00"))
	require.NoError(t, err)

	byBuyer, err := f.svc.ListByBuyer(context.Background(), buyerID, 10)
	require.NoError(t, err)
	assert.Len(t, byBuyer, 1)

	bySeller, err := f.svc.ListBySeller(context.Background(), sellerID, 10)
	require.NoError(t, err)
	assert.Len(t, bySeller, 1)

	none, err := f.svc.ListByBuyer(context.Background(), 999, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
