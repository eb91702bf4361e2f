package dispute

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/aftersale/internal/order"
	"github.com/tidemark/aftersale/internal/refund"
	"github.com/tidemark/aftersale/internal/storage"
	"github.com/tidemark/aftersale/internal/testutil"
	"github.com/tidemark/aftersale/internal/wallet"
)

type pgFixture struct {
	db      *sql.DB
	svc     *Service
	refunds *refund.Service
	ledger  *wallet.Ledger
	orders  order.Store
	store   *PostgresStore
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	db := testutil.PG(t)

	_, err := db.Exec(`INSERT INTO orders (id, buyer_id, seller_id, total_amount, status)
		VALUES ($1, $2, $3, $4::NUMERIC(12,2), 'paid')`, orderID, buyerID, sellerID, "100.00")
	require.NoError(t, err)

	uow := storage.NewSQL(db)
	orders := order.NewPostgresStore(db)
	sync := order.NewSynchronizer(orders)
	ledger := wallet.New(wallet.NewPostgresStore(db))
	refundStore := refund.NewPostgresStore(db)
	store := NewPostgresStore(db)

	svc := NewService(uow, store, refundStore, sync, ledger)
	refunds := refund.NewService(uow, refundStore, orders, sync, ledger, svc)
	return &pgFixture{db: db, svc: svc, refunds: refunds, ledger: ledger, orders: orders, store: store}
}

func (f *pgFixture) escalate(t *testing.T) *Dispute {
	t.Helper()
	ctx := context.Background()
	req := refund.SubmitRequest{
		OrderID: orderID, Kind: refund.KindRefundOnly, GoodsReceived: true,
		Amount: "40.00", Reason: "damaged item",
	}
	_, err := f.refunds.Submit(ctx, buyerID, req)
	require.NoError(t, err)
	_, err = f.refunds.Reject(ctx, sellerID, orderID, refund.DecisionRequest{Code: "R01", Reason: "no"})
	require.NoError(t, err)
	_, err = f.refunds.Submit(ctx, buyerID, req)
	require.NoError(t, err)
	_, err = f.refunds.Reject(ctx, sellerID, orderID, refund.DecisionRequest{Code: "R01", Reason: "still no"})
	require.NoError(t, err)

	disputes, err := f.store.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, disputes, 1)
	return disputes[0]
}

// Scenario: two rejections escalate, admin resolves partial for the
// requested amount, and every table lands in its final state.
func TestPGEscalationAndPartialResolution(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	d := f.escalate(t)

	_, err := f.refunds.Submit(ctx, buyerID, refund.SubmitRequest{
		OrderID: orderID, Kind: refund.KindRefundOnly, Amount: "40.00", Reason: "again",
	})
	assert.ErrorIs(t, err, refund.ErrResubmissionLimit)

	got, err := f.svc.Resolve(ctx, adminID, d.ID, resolveReq(OutcomePartial, "40.00"))
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)

	balance, err := f.ledger.Balance(ctx, buyerID)
	require.NoError(t, err)
	assert.Equal(t, "40.00", balance)

	r, err := f.refunds.Get(ctx, buyerID, false, orderID)
	require.NoError(t, err)
	assert.Equal(t, refund.StatusCompleted, r.Status)

	ord, err := f.orders.Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, ord.Status)

	report, err := f.ledger.Audit(ctx, buyerID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

// Scenario: refund_seller moves no money and leaves the order alone.
func TestPGResolveRefundSeller(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	d := f.escalate(t)

	_, err := f.svc.Resolve(ctx, adminID, d.ID, resolveReq(OutcomeRefundSeller, ""))
	require.NoError(t, err)

	balance, err := f.ledger.Balance(ctx, buyerID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", balance)

	var entries int
	require.NoError(t, f.db.QueryRow(
		`SELECT COUNT(*) FROM wallet_entries WHERE ref_type = 'dispute'`).Scan(&entries))
	assert.Zero(t, entries)

	r, err := f.refunds.Get(ctx, buyerID, false, orderID)
	require.NoError(t, err)
	assert.Equal(t, refund.StatusClosed, r.Status)

	ord, err := f.orders.Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusAfterSales, ord.Status)
}

// Concurrent resolutions serialize on the row locks; exactly one wins
// and exactly one ledger entry exists afterwards.
func TestPGConcurrentResolutions(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	d := f.escalate(t)

	const attempts = 4
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Resolve(ctx, adminID, d.ID, resolveReq(OutcomeRefundBuyer, ""))
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		default:
			require.ErrorIs(t, err, ErrAlreadyResolved)
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, attempts-1, lost)

	balance, err := f.ledger.Balance(ctx, buyerID)
	require.NoError(t, err)
	assert.Equal(t, "40.00", balance)

	var entries int
	require.NoError(t, f.db.QueryRow(
		`SELECT COUNT(*) FROM wallet_entries WHERE user_id = $1`, buyerID).Scan(&entries))
	assert.Equal(t, 1, entries)
}

func TestPGAdminReadTransition(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	d := f.escalate(t)

	got, err := f.svc.Get(ctx, adminID, true, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, got.Status)

	var status string
	require.NoError(t, f.db.QueryRow(
		`SELECT status FROM disputes WHERE id = $1`, d.ID).Scan(&status))
	assert.Equal(t, StatusInReview, status)
}
