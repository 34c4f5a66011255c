package snapshot

import (
	stdsync "sync"
	"time"
)

// SyncMark records the outcome of a successful sync cycle.
type SyncMark struct {
	// Revision is the remote revision token the snapshot now corresponds to.
	Revision string

	// SyncedAt is when the cycle completed.
	SyncedAt time.Time
}

// Store owns the authoritative local snapshot. UI-layer collaborators mutate
// it through Update at any time, including mid-sync; the orchestrator takes an
// immutable copy via Current and commits its result with Commit, which only
// replaces the snapshot when nothing changed underneath it. Every mutation
// bumps a generation counter so that check is cheap.
type Store struct {
	mu         stdsync.RWMutex
	current    *Snapshot
	base       *Snapshot // state at the start of current's unsynced edit history
	generation uint64
	dirty      bool
	lastSync   time.Time
	subs       []func(*Snapshot)
}

// NewStore creates a store owning the given snapshot. A snapshot with a
// non-empty LastSyncedRevision is assumed clean; base starts as a copy of it.
// A never-synced snapshot that already holds records starts dirty, since its
// entire content is unsynced edit history.
func NewStore(initial *Snapshot) *Store {
	st := &Store{current: initial.Clone()}
	if initial.LastSyncedRevision != "" {
		st.base = initial.Clone()
	} else if initial.HasRecords() {
		st.dirty = true
	}
	return st
}

// RestoreStore rebuilds a store from persisted state so pending edit history
// survives process restarts. base may be nil when the device never synced;
// dirty marks edits made since the last successful cycle.
func RestoreStore(current, base *Snapshot, dirty bool) *Store {
	st := &Store{current: current.Clone(), dirty: dirty}
	if base != nil {
		st.base = base.Clone()
	}
	return st
}

// Current returns a deep copy of the snapshot together with the generation it
// was taken at.
func (st *Store) Current() (*Snapshot, uint64) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current.Clone(), st.generation
}

// Update applies a mutation from a UI-layer collaborator. The mutation runs
// on a copy; when fn returns nil the copy becomes the new snapshot, the store
// is marked dirty and subscribers are notified.
func (st *Store) Update(fn func(*Snapshot) error) error {
	st.mu.Lock()
	next := st.current.Clone()
	if err := fn(next); err != nil {
		st.mu.Unlock()
		return err
	}
	// LastSyncedRevision belongs to the sync engine, never to collaborators.
	next.LastSyncedRevision = st.current.LastSyncedRevision
	st.current = next
	st.generation++
	st.dirty = true
	notify := st.snapshotForNotifyLocked()
	st.mu.Unlock()

	st.notify(notify)
	return nil
}

// Commit atomically installs the result of a completed sync cycle. It
// succeeds only when the generation still equals gen, proving no collaborator
// wrote in between; in that case synced becomes the current snapshot, the
// dirty flag clears, and base is reset to the synced state.
//
// When the generation moved, nothing is replaced and Commit returns false:
// the concurrent local edits simply become part of the next cycle's local
// side, and base keeps pointing at the start of their edit history.
func (st *Store) Commit(gen uint64, synced *Snapshot, mark SyncMark) bool {
	st.mu.Lock()
	if st.generation != gen {
		st.mu.Unlock()
		return false
	}
	installed := synced.Clone()
	installed.LastSyncedRevision = mark.Revision
	st.current = installed
	st.base = installed.Clone()
	st.generation++
	st.dirty = false
	st.lastSync = mark.SyncedAt
	notify := st.snapshotForNotifyLocked()
	st.mu.Unlock()

	st.notify(notify)
	return true
}

// Base returns the common-ancestor snapshot for three-way merging: the state
// this device's unsynced edits started from. Nil when the device has never
// synced.
func (st *Store) Base() *Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.base == nil {
		return nil
	}
	return st.base.Clone()
}

// Dirty reports whether the snapshot carries edits not yet synced.
func (st *Store) Dirty() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.dirty
}

// LastSyncedRevision returns the remote revision the current snapshot was
// derived from, or "" when never synced.
func (st *Store) LastSyncedRevision() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current.LastSyncedRevision
}

// LastSyncTime returns when the last successful sync completed.
func (st *Store) LastSyncTime() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.lastSync
}

// Subscribe registers fn to receive a copy of the snapshot after every
// replacement. Handlers run on their own goroutine.
func (st *Store) Subscribe(fn func(*Snapshot)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.subs = append(st.subs, fn)
}

func (st *Store) snapshotForNotifyLocked() *Snapshot {
	if len(st.subs) == 0 {
		return nil
	}
	return st.current.Clone()
}

func (st *Store) notify(snap *Snapshot) {
	if snap == nil {
		return
	}
	st.mu.RLock()
	subs := make([]func(*Snapshot), len(st.subs))
	copy(subs, st.subs)
	st.mu.RUnlock()

	for _, fn := range subs {
		go func(handler func(*Snapshot)) {
			defer func() {
				_ = recover() // a panicking subscriber must not kill the engine
			}()
			handler(snap.Clone())
		}(fn)
	}
}
