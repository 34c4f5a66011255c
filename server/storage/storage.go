// Package storage defines the persistence contract for the snapshot server:
// one opaque blob per store, guarded by a server-generated revision token.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arteapos/possync/errors"
)

// Blob is the stored snapshot document with its revision.
type Blob struct {
	Data      []byte
	Revision  string
	UpdatedAt time.Time
}

// BlobStorage persists the snapshot document. Save is a compare-and-swap: it
// only succeeds when expected matches the stored revision, or, when expected
// is empty, when nothing is stored yet. Implementations return
// KindRevisionMismatch on a lost race and KindNotFound from Load on an empty
// store.
type BlobStorage interface {
	Load(ctx context.Context) (*Blob, error)
	Save(ctx context.Context, data []byte, expected string) (string, error)
	Close() error
}

// NewRevision mints a fresh opaque revision token.
func NewRevision() string {
	return uuid.NewString()
}

// Memory is a BlobStorage backed by process memory. Used in tests and as a
// zero-setup default for single-instance deployments that can tolerate
// losing the blob on restart.
type Memory struct {
	mu   sync.Mutex
	blob *Blob
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(ctx context.Context) (*Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return nil, errors.NewNotFound("memstorage")
	}
	cp := *m.blob
	cp.Data = append([]byte(nil), m.blob.Data...)
	return &cp, nil
}

func (m *Memory) Save(ctx context.Context, data []byte, expected string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case expected == "" && m.blob != nil:
		return "", errors.NewRevisionMismatch("memstorage", "")
	case expected != "" && (m.blob == nil || m.blob.Revision != expected):
		return "", errors.NewRevisionMismatch("memstorage", expected)
	}

	rev := NewRevision()
	m.blob = &Blob{
		Data:      append([]byte(nil), data...),
		Revision:  rev,
		UpdatedAt: time.Now().UTC(),
	}
	return rev, nil
}

func (m *Memory) Close() error { return nil }

var _ BlobStorage = (*Memory)(nil)
