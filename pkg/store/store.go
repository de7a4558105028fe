// Package store persists world snapshots so the grid survives server
// restarts. Backends implement SnapshotStore; MemoryStore suits tests
// and single-process runs, S3Store suits real deployments.
package store

import (
	"context"
	"errors"

	"github.com/gridwire/gridwire/pkg/protocol"
)

// Store errors.
var (
	// ErrNotFound is returned by Load when no snapshot has been saved.
	ErrNotFound = errors.New("store: snapshot not found")

	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("store: closed")
)

// SnapshotStore persists the authoritative world state. Implementations
// must be safe for concurrent use. Save overwrites any previous snapshot;
// there is exactly one world per store.
type SnapshotStore interface {
	// Save persists a snapshot, replacing the previous one.
	Save(ctx context.Context, snap *protocol.Snapshot) error

	// Load retrieves the last saved snapshot. Returns ErrNotFound when
	// nothing has been saved.
	Load(ctx context.Context) (*protocol.Snapshot, error)

	// Delete removes the saved snapshot. Deleting a missing snapshot is
	// not an error.
	Delete(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
