package wallet

import (
	"context"
	"sync"

	"github.com/tidemark/aftersale/internal/storage"
)

// MemoryStore keeps balance chains in memory. Used in development mode
// and by unit tests; pairs with storage.MemoryUnitOfWork, whose global
// lock gives the same one-writer-at-a-time guarantee the row locks give
// Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	nextSeq int64
	chains  map[int64][]*Entry
}

// NewMemoryStore creates an empty in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[int64][]*Entry)}
}

func (m *MemoryStore) latest(userID int64) *Entry {
	chain := m.chains[userID]
	if len(chain) == 0 {
		return nil
	}
	cp := *chain[len(chain)-1]
	return &cp
}

func (m *MemoryStore) LatestTx(ctx context.Context, tx storage.Tx, userID int64) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest(userID), nil
}

func (m *MemoryStore) Latest(ctx context.Context, userID int64) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest(userID), nil
}

func (m *MemoryStore) InsertTx(ctx context.Context, tx storage.Tx, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	cp := *e
	cp.Seq = m.nextSeq
	e.Seq = m.nextSeq
	m.chains[e.UserID] = append(m.chains[e.UserID], &cp)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, userID int64, beforeSeq int64, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[userID]
	var out []*Entry
	for i := len(chain) - 1; i >= 0 && len(out) < limit; i-- {
		if beforeSeq > 0 && chain[i].Seq >= beforeSeq {
			continue
		}
		cp := *chain[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) ListAsc(ctx context.Context, userID int64) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[userID]
	out := make([]*Entry, 0, len(chain))
	for _, e := range chain {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}
