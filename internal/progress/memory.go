package progress

import (
	"context"
	"maps"
	"sync"

	"github.com/JonMunkholm/qaimport/internal/core"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps cursors in process memory. It backs tests and
// dry-run-only deployments.
type MemoryStore struct {
	mu      sync.Mutex
	cursors map[string]core.Cursor
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]core.Cursor)}
}

// Load returns the cursor for targetID. A missing entry is not an error.
func (m *MemoryStore) Load(_ context.Context, targetID string, kind core.CursorKind) (core.Cursor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return decode(m.cursors[targetID], kind)
}

// Save records the cursor for targetID.
func (m *MemoryStore) Save(_ context.Context, targetID string, c core.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursors[targetID] = c
	return nil
}

func (m *MemoryStore) All(context.Context) (map[string]core.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return maps.Clone(m.cursors), nil
}

func (m *MemoryStore) Reset(_ context.Context, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cursors, targetID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
