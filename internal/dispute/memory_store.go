package dispute

import (
	"context"
	"sort"
	"sync"

	"github.com/tidemark/aftersale/internal/storage"
)

// MemoryStore is an in-memory Store for tests and local development.
// It relies on storage.MemoryUnitOfWork to linearize transactions.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Dispute
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Dispute)}
}

func (m *MemoryStore) CreateTx(ctx context.Context, tx storage.Tx, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[d.ID] = copyDispute(d)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDispute(d), nil
}

func (m *MemoryStore) GetTx(ctx context.Context, tx storage.Tx, id string) (*Dispute, error) {
	return m.Get(ctx, id)
}

func (m *MemoryStore) UpdateTx(ctx context.Context, tx storage.Tx, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[d.ID]; !ok {
		return ErrNotFound
	}
	m.byID[d.ID] = copyDispute(d)
	return nil
}

func (m *MemoryStore) MarkInReview(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if d.Status != StatusOpen {
		return nil
	}
	d.Status = StatusInReview
	d.ActionRequiredBy = ActionAdmin
	return nil
}

func (m *MemoryStore) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Dispute
	for _, d := range m.byID {
		if !d.IsTerminal() {
			out = append(out, copyDispute(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyDispute(d *Dispute) *Dispute {
	cp := *d
	cp.BuyerEvidence = append([]string(nil), d.BuyerEvidence...)
	cp.SellerEvidence = append([]string(nil), d.SellerEvidence...)
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
