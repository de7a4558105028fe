package store

import (
	"context"
	"sync"

	"github.com/gridwire/gridwire/pkg/protocol"
)

// MemoryStore is an in-memory snapshot store. It is the default for
// tests and single-process runs; the snapshot does not survive the
// process.
type MemoryStore struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores the snapshot, replacing any previous one.
func (m *MemoryStore) Save(ctx context.Context, snap *protocol.Snapshot) error {
	data := protocol.EncodeSnapshot(snap)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data = data
	return nil
}

// Load returns the last saved snapshot.
func (m *MemoryStore) Load(ctx context.Context) (*protocol.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.data == nil {
		return nil, ErrNotFound
	}
	return protocol.DecodeSnapshot(m.data)
}

// Delete removes the saved snapshot.
func (m *MemoryStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data = nil
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
