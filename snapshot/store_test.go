package snapshot

import (
	"sync"
	"testing"
	"time"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	s := New("branch-a")
	s.Collections["products"] = Collection{
		rec("p1", "2026-01-02T10:00:00Z", map[string]any{"name": "Coffee"}),
	}
	return NewStore(s)
}

func TestUpdateMarksDirtyAndBumpsGeneration(t *testing.T) {
	s := New("branch-a")
	s.LastSyncedRevision = "r0"
	s.Collections["products"] = Collection{
		rec("p1", "2026-01-02T10:00:00Z", map[string]any{"name": "Coffee"}),
	}
	st := NewStore(s)
	if st.Dirty() {
		t.Fatal("synced store reported dirty")
	}
	_, gen := st.Current()

	err := st.Update(func(s *Snapshot) error {
		s.Collections["products"] = append(s.Collections["products"],
			rec("p2", "2026-01-02T11:00:00Z", nil))
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if !st.Dirty() {
		t.Error("store not dirty after update")
	}
	cur, gen2 := st.Current()
	if gen2 != gen+1 {
		t.Errorf("generation = %d, want %d", gen2, gen+1)
	}
	if len(cur.Collection("products")) != 2 {
		t.Errorf("update not applied: %d products", len(cur.Collection("products")))
	}
}

func TestNewStoreMarksUnsyncedContentDirty(t *testing.T) {
	// Records with no synced lineage are all pending edits.
	st := seedStore(t)
	if !st.Dirty() {
		t.Error("never-synced store with records reported clean")
	}
	if st.Base() != nil {
		t.Error("never-synced store has a base")
	}

	if NewStore(New("branch-a")).Dirty() {
		t.Error("empty store reported dirty")
	}

	synced := New("branch-a")
	synced.LastSyncedRevision = "r0"
	synced.Collections["products"] = Collection{
		rec("p1", "2026-01-02T10:00:00Z", nil),
	}
	if NewStore(synced).Dirty() {
		t.Error("synced store reported dirty")
	}
}

func TestUpdateCannotTouchLastSyncedRevision(t *testing.T) {
	st := seedStore(t)
	_ = st.Update(func(s *Snapshot) error {
		s.LastSyncedRevision = "forged"
		return nil
	})
	if st.LastSyncedRevision() != "" {
		t.Error("collaborator mutated LastSyncedRevision")
	}
}

func TestCommitHappyPath(t *testing.T) {
	st := seedStore(t)
	cur, gen := st.Current()

	synced := cur.Clone()
	synced.Collections["transactions"] = Collection{rec("t1", "2026-01-02T12:00:00Z", nil)}

	now := time.Now()
	if !st.Commit(gen, synced, SyncMark{Revision: "r1", SyncedAt: now}) {
		t.Fatal("Commit refused with unchanged generation")
	}

	if st.Dirty() {
		t.Error("store dirty after commit")
	}
	if st.LastSyncedRevision() != "r1" {
		t.Errorf("LastSyncedRevision = %q", st.LastSyncedRevision())
	}
	if !st.LastSyncTime().Equal(now) {
		t.Errorf("LastSyncTime = %v", st.LastSyncTime())
	}
	base := st.Base()
	if base == nil || len(base.Collection("transactions")) != 1 {
		t.Error("base not reset to synced state")
	}
}

func TestCommitDetectsConcurrentEdit(t *testing.T) {
	st := seedStore(t)
	cur, gen := st.Current()

	// A collaborator writes while the sync cycle is in flight.
	_ = st.Update(func(s *Snapshot) error {
		s.Collections["products"] = append(s.Collections["products"],
			rec("p2", "2026-01-02T11:00:00Z", nil))
		return nil
	})

	if st.Commit(gen, cur, SyncMark{Revision: "r1"}) {
		t.Fatal("Commit succeeded despite concurrent edit")
	}
	// The concurrent edit survives and stays dirty for the next cycle.
	if !st.Dirty() {
		t.Error("dirty flag lost")
	}
	after, _ := st.Current()
	if len(after.Collection("products")) != 2 {
		t.Error("concurrent edit lost")
	}
	if st.LastSyncedRevision() != "" {
		t.Error("revision advanced despite failed commit")
	}
}

func TestCurrentReturnsIsolatedCopy(t *testing.T) {
	st := seedStore(t)
	cur, _ := st.Current()
	cur.Collections["products"][0]["name"] = "Hacked"

	fresh, _ := st.Current()
	if fresh.Collections["products"][0]["name"] != "Coffee" {
		t.Error("Current() exposed shared state")
	}
}

func TestSubscribeNotifiedOnReplace(t *testing.T) {
	st := seedStore(t)

	var mu sync.Mutex
	var got []*Snapshot
	done := make(chan struct{}, 2)
	st.Subscribe(func(s *Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
		done <- struct{}{}
	})

	_ = st.Update(func(s *Snapshot) error { return nil })
	cur, gen := st.Current()
	st.Commit(gen, cur, SyncMark{Revision: "r1"})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("subscriber not notified")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("notifications = %d, want 2", len(got))
	}
}

func TestNewStoreSeedsBaseWhenAlreadySynced(t *testing.T) {
	s := New("branch-a")
	s.LastSyncedRevision = "r5"
	st := NewStore(s)
	if st.Base() == nil {
		t.Error("synced snapshot must seed a base")
	}

	never := NewStore(New("branch-b"))
	if never.Base() != nil {
		t.Error("never-synced snapshot must have nil base")
	}
}
