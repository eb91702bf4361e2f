package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/aftersale/internal/storage"
	"github.com/tidemark/aftersale/internal/testutil"
)

func TestPGAppendChain(t *testing.T) {
	db := testutil.PG(t)
	ledger := New(NewPostgresStore(db))
	uow := storage.NewSQL(db)
	ctx := context.Background()

	appendPG := func(cents int64) (string, error) {
		var balance string
		err := uow.RunTx(ctx, func(tx storage.Tx) error {
			var err error
			balance, err = ledger.Append(ctx, tx, 1, cents, "test", RefTypeAdjustment, "adj_1")
			return err
		})
		return balance, err
	}

	balance, err := appendPG(5000)
	require.NoError(t, err)
	assert.Equal(t, "50.00", balance)

	balance, err = appendPG(-1250)
	require.NoError(t, err)
	assert.Equal(t, "37.50", balance)

	_, err = appendPG(-5000)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	current, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "37.50", current)

	report, err := ledger.Audit(ctx, 1)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 2, report.Entries)
}

// Concurrent appends to the same user serialize on the newest-entry
// lock; replaying the chain afterwards must be consistent.
func TestPGConcurrentAppends(t *testing.T) {
	db := testutil.PG(t)
	ledger := New(NewPostgresStore(db))
	uow := storage.NewSQL(db)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := uow.RunTx(ctx, func(tx storage.Tx) error {
				_, err := ledger.Append(ctx, tx, 1, 100, "concurrent", RefTypeAdjustment, "adj_c")
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "8.00", balance)

	report, err := ledger.Audit(ctx, 1)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, writers, report.Entries)
}
