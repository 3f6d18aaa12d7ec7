package queue

import (
	"context"
	"sync"

	"github.com/stacksapp/stacks-server/internal/domain"
)

// Persistence stores queue entries durably so the queue survives process
// restarts. The queue serializes all calls; implementations need no
// internal ordering guarantees beyond basic thread safety.
type Persistence interface {
	SaveEntry(ctx context.Context, entry *domain.QueueEntry) error
	UpdateEntry(ctx context.Context, entry *domain.QueueEntry) error
	DeleteEntry(ctx context.Context, id string) error
	LoadEntries(ctx context.Context) ([]*domain.QueueEntry, error)
	Close() error
}

// MemoryPersistence is an in-memory Persistence for tests and ephemeral
// runtimes.
type MemoryPersistence struct {
	mu      sync.Mutex
	entries map[string]domain.QueueEntry
}

// NewMemoryPersistence creates an empty in-memory persistence.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{entries: make(map[string]domain.QueueEntry)}
}

// SaveEntry implements Persistence.
func (m *MemoryPersistence) SaveEntry(_ context.Context, entry *domain.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = *entry
	return nil
}

// UpdateEntry implements Persistence.
func (m *MemoryPersistence) UpdateEntry(ctx context.Context, entry *domain.QueueEntry) error {
	return m.SaveEntry(ctx, entry)
}

// DeleteEntry implements Persistence.
func (m *MemoryPersistence) DeleteEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// LoadEntries implements Persistence.
func (m *MemoryPersistence) LoadEntries(_ context.Context) ([]*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]*domain.QueueEntry, 0, len(m.entries))
	for _, e := range m.entries {
		copied := e
		entries = append(entries, &copied)
	}
	return entries, nil
}

// Close implements Persistence.
func (m *MemoryPersistence) Close() error { return nil }
