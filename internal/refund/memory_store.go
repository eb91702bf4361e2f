package refund

import (
	"context"
	"sort"
	"sync"

	"github.com/tidemark/aftersale/internal/storage"
)

// MemoryStore is an in-memory Store for tests and local development.
// It relies on storage.MemoryUnitOfWork to linearize transactions.
type MemoryStore struct {
	mu      sync.RWMutex
	byOrder map[int64]*Request
	nextID  int64
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOrder: make(map[int64]*Request)}
}

func (m *MemoryStore) CreateTx(ctx context.Context, tx storage.Tx, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byOrder[r.OrderID]; exists {
		return ErrAlreadyRequested
	}
	m.nextID++
	r.ID = m.nextID
	cp := *r
	m.byOrder[r.OrderID] = &cp
	return nil
}

func (m *MemoryStore) GetByOrderTx(ctx context.Context, tx storage.Tx, orderID int64) (*Request, error) {
	return m.GetByOrder(ctx, orderID)
}

func (m *MemoryStore) GetByOrder(ctx context.Context, orderID int64) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateTx(ctx context.Context, tx storage.Tx, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byOrder[r.OrderID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.byOrder[r.OrderID] = &cp
	return nil
}

func (m *MemoryStore) ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]*Request, error) {
	return m.list(func(r *Request) bool { return r.BuyerID == buyerID }, limit), nil
}

func (m *MemoryStore) ListBySeller(ctx context.Context, sellerID int64, limit int) ([]*Request, error) {
	return m.list(func(r *Request) bool { return r.SellerID == sellerID }, limit), nil
}

func (m *MemoryStore) list(match func(*Request) bool, limit int) []*Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Request
	for _, r := range m.byOrder {
		if match(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
