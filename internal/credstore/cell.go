package credstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Cell is the process-wide authoritative copy of the credential triple.
//
// Reads and swaps operate on memory only and always see a whole triple.
// Persist writes the latest snapshot to the backing Store; concurrent Persist
// calls are serialized, so the backend always ends up with the newest value.
type Cell struct {
	store Store

	mu    sync.RWMutex
	state TokenState

	// lastPersisted skips redundant backend writes
	lastPersisted atomic.Pointer[TokenState]
	writeMu       sync.Mutex
}

// NewCell creates an empty Cell backed by store.
// No I/O is performed until Load.
func NewCell(store Store) (*Cell, error) {
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}
	return &Cell{store: store}, nil
}

// Load replaces the in-memory snapshot with the backend's contents.
// A backend without stored credentials leaves the Cell empty.
func (c *Cell) Load(ctx context.Context) error {
	state, err := c.store.Read(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("reading stored credentials: %w", err)
	}

	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	// Remember the loaded state to avoid writing it straight back
	c.lastPersisted.Store(&state)
	return nil
}

// Snapshot returns the current credential triple.
func (c *Cell) Snapshot() TokenState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Swap replaces the in-memory triple and returns the previous one.
// The backend is not touched; call Persist afterwards.
func (c *Cell) Swap(state TokenState) TokenState {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	c.state = state
	return prev
}

// Persist writes the current snapshot to the backend, or deletes the stored
// credentials if the Cell is empty.
func (c *Cell) Persist(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Read under writeMu so a slower writer never overwrites a newer value
	state := c.Snapshot()
	if last := c.lastPersisted.Load(); last != nil && *last == state {
		return nil
	}

	var err error
	if state.IsZero() {
		err = c.store.Delete(ctx)
	} else {
		err = c.store.Write(ctx, state)
	}
	if err != nil {
		return err
	}

	c.lastPersisted.Store(&state)
	return nil
}
