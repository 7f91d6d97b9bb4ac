package credstore

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials in process memory only.
// Suitable for tests and for sessions that must not outlive the process.
type MemoryStore struct {
	mu    sync.RWMutex
	state TokenState
	set   bool
}

// Compile-time check to ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Read(ctx context.Context) (TokenState, error) {
	if err := ctx.Err(); err != nil {
		return TokenState{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return TokenState{}, ErrNotFound
	}
	return m.state, nil
}

func (m *MemoryStore) Write(ctx context.Context, state TokenState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = state
	m.set = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = TokenState{}
	m.set = false
	m.mu.Unlock()
	return nil
}
