package order

import (
	"context"
	"sync"

	"github.com/tidemark/aftersale/internal/storage"
)

// MemoryStore is an in-memory order store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[int64]*Order
}

// NewMemoryStore creates an empty in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[int64]*Order)}
}

// Put seeds an order. In production the orders table is populated by
// the checkout side; the memory store needs an explicit seed.
func (m *MemoryStore) Put(ord *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ord
	m.orders[ord.ID] = &cp
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ord, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ord
	return &cp, nil
}

func (m *MemoryStore) GetTx(ctx context.Context, tx storage.Tx, id int64) (*Order, error) {
	return m.Get(ctx, id)
}

func (m *MemoryStore) UpdateStatusTx(ctx context.Context, tx storage.Tx, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	ord.Status = status
	return nil
}
