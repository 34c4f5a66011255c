// Package memory provides an in-process RemoteStore backed by a byte slice.
// It implements the same conditional-write semantics as the HTTP and S3
// transports and is the reference store for tests and single-machine use.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/arteapos/possync"
	"github.com/arteapos/possync/errors"
	"github.com/arteapos/possync/snapshot"
)

// Store is an in-memory snapshot blob with optimistic concurrency. Safe for
// concurrent use by any number of Syncers.
type Store struct {
	mu      sync.Mutex
	blob    []byte
	rev     uint64
	writes  int
	fetches int

	// fault hooks, nil when unused
	fetchErr func() error
	writeErr func() error
}

// NewStore creates an empty store. The first Fetch returns NotFound until a
// snapshot is written.
func NewStore() *Store {
	return &Store{}
}

// Fetch returns the stored snapshot and its revision.
func (m *Store) Fetch(ctx context.Context) (*snapshot.Snapshot, possync.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", errors.NewTransportError(errors.OpFetch, "memory", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++

	if m.fetchErr != nil {
		if err := m.fetchErr(); err != nil {
			return nil, "", err
		}
	}
	if m.blob == nil {
		return nil, "", errors.NewNotFound("memory")
	}

	snap, err := snapshot.Unmarshal(m.blob)
	if err != nil {
		return nil, "", err
	}
	return snap, m.revision(), nil
}

// Write stores snap if expected matches the current revision. An empty
// expected revision is a create-only write and fails with RevisionMismatch
// when a snapshot already exists.
func (m *Store) Write(ctx context.Context, snap *snapshot.Snapshot, expected possync.Revision) (possync.Revision, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.NewTransportError(errors.OpPush, "memory", err)
	}

	data, err := snapshot.Marshal(snap)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		if err := m.writeErr(); err != nil {
			return "", err
		}
	}

	if expected == "" {
		if m.blob != nil {
			return "", errors.NewRevisionMismatch("memory", "")
		}
	} else if expected != m.revision() {
		return "", errors.NewRevisionMismatch("memory", string(expected))
	}

	m.blob = data
	m.rev++
	m.writes++
	return m.revision(), nil
}

// Close releases nothing; it exists to satisfy the transport contract.
func (m *Store) Close() error { return nil }

// Revision returns the current revision without fetching the payload.
func (m *Store) Revision() possync.Revision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision()
}

// Writes returns the number of successful writes, for tests.
func (m *Store) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Fetches returns the number of Fetch calls, for tests.
func (m *Store) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// FailFetches makes the next n Fetch calls return a retryable transport
// error.
func (m *Store) FailFetches(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := n
	m.fetchErr = func() error {
		if remaining <= 0 {
			return nil
		}
		remaining--
		return errors.NewTransportError(errors.OpFetch, "memory", fmt.Errorf("injected fetch fault"))
	}
}

// FailWrites makes the next n Write calls return a retryable transport
// error.
func (m *Store) FailWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := n
	m.writeErr = func() error {
		if remaining <= 0 {
			return nil
		}
		remaining--
		return errors.NewTransportError(errors.OpPush, "memory", fmt.Errorf("injected write fault"))
	}
}

// BeforeWrite installs a hook invoked under the store lock before every
// conditional check. Tests use it to slip a competing write in between a
// Syncer's fetch and push.
func (m *Store) BeforeWrite(fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = fn
}

func (m *Store) revision() possync.Revision {
	if m.blob == nil {
		return ""
	}
	return possync.Revision(fmt.Sprintf("rev-%d", m.rev))
}
