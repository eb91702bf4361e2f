package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/aftersale/internal/storage"
)

func seeded(t *testing.T, status string) (*Synchronizer, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	store.Put(&Order{ID: 501, BuyerID: 1, SellerID: 2, TotalAmount: "100.00", Status: status})
	return NewSynchronizer(store), store
}

func TestMarkAfterSales(t *testing.T) {
	ctx := context.Background()
	sync, store := seeded(t, "completed")

	require.NoError(t, sync.MarkAfterSales(ctx, storage.MemTx{}, 501))

	ord, err := store.Get(ctx, 501)
	require.NoError(t, err)
	assert.Equal(t, StatusAfterSales, ord.Status)
}

func TestMarkAfterSales_NeverRevertsCancellation(t *testing.T) {
	ctx := context.Background()
	sync, store := seeded(t, StatusCancelled)

	require.NoError(t, sync.MarkAfterSales(ctx, storage.MemTx{}, 501))

	ord, _ := store.Get(ctx, 501)
	assert.Equal(t, StatusCancelled, ord.Status)
}

func TestMarkCancelled_Idempotent(t *testing.T) {
	ctx := context.Background()
	sync, store := seeded(t, StatusAfterSales)

	require.NoError(t, sync.MarkCancelled(ctx, storage.MemTx{}, 501))
	require.NoError(t, sync.MarkCancelled(ctx, storage.MemTx{}, 501))

	ord, _ := store.Get(ctx, 501)
	assert.Equal(t, StatusCancelled, ord.Status)
}

func TestMarkCancelled_MissingOrder(t *testing.T) {
	sync, _ := seeded(t, "completed")
	err := sync.MarkCancelled(context.Background(), storage.MemTx{}, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_GetCopies(t *testing.T) {
	_, store := seeded(t, "completed")

	ord, err := store.Get(context.Background(), 501)
	require.NoError(t, err)
	ord.Status = "mutated"

	again, _ := store.Get(context.Background(), 501)
	assert.Equal(t, "completed", again.Status, "callers must not mutate the store through returned pointers")
}
