package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Dedup state is lost on restart,
// which the pipeline accepts: the worst case is a burst of re-delivered
// messages from within the source's visible window.
type MemoryStore struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

// NewMemoryStore creates an empty in-memory dedup store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]time.Time)}
}

func (m *MemoryStore) Has(_ context.Context, messageID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.seen[messageID]
	return ok, nil
}

func (m *MemoryStore) MarkSeen(_ context.Context, messageID string, deliveredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[messageID]; !ok {
		m.seen[messageID] = deliveredAt
	}
	return nil
}

func (m *MemoryStore) Prune(_ context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, at := range m.seen {
		if at.Before(before) {
			delete(m.seen, id)
		}
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seen = nil
	return nil
}
