// Package merge implements three-way reconciliation of two POS snapshots
// against their common ancestor. It is pure: no I/O, no clocks, no state —
// given the same inputs it always produces the same output, which is what
// makes the orchestrator's retry loop safe.
package merge

import (
	"fmt"
	"sort"

	"github.com/arteapos/possync/classify"
	"github.com/arteapos/possync/errors"
	"github.com/arteapos/possync/snapshot"
)

// Options tunes the merge.
type Options struct {
	// Strict reports every mutable-projection collection containing any
	// differing record as unresolvable, instead of applying last-writer-wins.
	Strict bool
}

// AmbiguousTie records a record-level tie that was broken deterministically:
// both sides edited a single field with identical updatedAt stamps, and the
// lexicographically smaller createdBy won. Distinct from a genuine conflict.
type AmbiguousTie struct {
	Collection string
	RecordID   string
	Field      string
	Winner     string // createdBy of the record that was kept
}

// Result is the outcome of a merge.
type Result struct {
	// Snapshot is the best-effort merged snapshot. For collections listed in
	// Unresolvable it contains the remote side wholesale, which is exactly
	// what the merge-and-retry conflict resolution applies.
	Snapshot *snapshot.Snapshot

	// Unresolvable lists the collections that cannot be merged automatically,
	// sorted by name. Empty means the merge is clean.
	Unresolvable []string

	// Ties lists the ambiguous ties broken during the merge, for auditing.
	Ties []AmbiguousTie
}

// OK reports whether every collection merged automatically.
func (r *Result) OK() bool { return len(r.Unresolvable) == 0 }

// Merge reconciles local and remote against base. base is the snapshot local
// was derived from at its last successful sync, and may be nil for a device
// that has never synced; it is used only to tell deletions apart from
// creations. Event-sourced collections are unioned and never conflict.
// Mutable-projection collections resolve by record-level last-writer-wins,
// with delete-vs-edit and extensive equal-timestamp differences reported as
// unresolvable.
func Merge(base, local, remote *snapshot.Snapshot, opts Options) (*Result, error) {
	if local == nil || remote == nil {
		return nil, errors.Errorf(errors.OpMerge, "merge", errors.KindInternal,
			"local and remote snapshots are required")
	}
	if err := local.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.OpMerge, "merge")
	}
	if err := remote.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.OpMerge, "merge")
	}

	merged := snapshot.New(local.DeviceID)
	merged.LastSyncedRevision = local.LastSyncedRevision

	result := &Result{Snapshot: merged}

	for _, name := range collectionUnion(local, remote) {
		policy := classify.Lookup(name)
		lc := local.Collection(name)
		rc := remote.Collection(name)

		var bc snapshot.Collection
		if base != nil {
			bc = base.Collection(name)
		}

		switch policy.Class {
		case classify.EventSourced:
			merged.Collections[name] = mergeEventSourced(policy, lc, rc)

		case classify.MutableProjection:
			out, ties, resolvable := mergeMutable(name, bc, lc, rc, opts)
			result.Ties = append(result.Ties, ties...)
			if !resolvable {
				result.Unresolvable = append(result.Unresolvable, name)
				// Best-effort output: the remote side wins the whole
				// conflicted collection.
				merged.Collections[name] = rc.Clone()
				continue
			}
			merged.Collections[name] = out
		}
	}

	sort.Strings(result.Unresolvable)
	return result, nil
}

// collectionUnion returns the sorted union of collection names on both sides.
func collectionUnion(local, remote *snapshot.Snapshot) []string {
	seen := make(map[string]struct{})
	for name := range local.Collections {
		seen[name] = struct{}{}
	}
	for name := range remote.Collections {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mergeEventSourced unions two append-only collections by record id. For ids
// present on both sides it also unions the declared append-only sub-lists.
// The operation is commutative: the output depends only on the set of inputs.
func mergeEventSourced(policy classify.Policy, local, remote snapshot.Collection) snapshot.Collection {
	localByID := local.ByID()
	remoteByID := remote.ByID()

	out := make(snapshot.Collection, 0, len(localByID)+len(remoteByID))
	for id, lr := range localByID {
		rr, both := remoteByID[id]
		if !both {
			out = append(out, lr.Clone())
			continue
		}
		out = append(out, mergeAppendLists(policy, lr, rr))
	}
	for id, rr := range remoteByID {
		if _, both := localByID[id]; !both {
			out = append(out, rr.Clone())
		}
	}

	sortEventSourced(out)
	return out
}

// mergeAppendLists combines two versions of the same event-sourced record.
// The newer version carries the merged record; each declared sub-list is
// unioned by id and ordered by its timestamp field.
func mergeAppendLists(policy classify.Policy, local, remote snapshot.Record) snapshot.Record {
	carrier := local
	other := remote
	if recordOrder(remote, local) < 0 {
		carrier, other = remote, local
	}
	out := carrier.Clone()

	for _, rule := range policy.AppendLists {
		a, aok := carrier.SubList(rule.Field)
		b, bok := other.SubList(rule.Field)
		if !aok && !bok {
			continue
		}

		seen := make(map[string]snapshot.Record, len(a)+len(b))
		for _, item := range a {
			seen[item.ID()] = item
		}
		for _, item := range b {
			if _, dup := seen[item.ID()]; !dup {
				seen[item.ID()] = item
			}
		}

		items := make([]snapshot.Record, 0, len(seen))
		for _, item := range seen {
			items = append(items, item)
		}
		sort.Slice(items, func(i, j int) bool {
			si, _ := items[i][rule.SortField].(string)
			sj, _ := items[j][rule.SortField].(string)
			if si != sj {
				return si < sj
			}
			return items[i].ID() < items[j].ID()
		})

		list := make([]any, len(items))
		for i, item := range items {
			list[i] = map[string]any(item.Clone())
		}
		out[rule.Field] = list
	}
	return out
}

// recordOrder orders two versions of a record: negative when a should win
// over b. Newer updatedAt wins; ties fall back to a canonical comparison so
// the choice is deterministic regardless of argument order.
func recordOrder(a, b snapshot.Record) int {
	at, aok := a.UpdatedAt()
	bt, bok := b.UpdatedAt()
	switch {
	case aok && bok && at.After(bt):
		return -1
	case aok && bok && bt.After(at):
		return 1
	case aok && !bok:
		return -1
	case bok && !aok:
		return 1
	}
	if ca, cb := a.CreatedBy(), b.CreatedBy(); ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	// Last resort: compare rendered content.
	return compareCanonical(a, b)
}

func compareCanonical(a, b snapshot.Record) int {
	sa := fmt.Sprintf("%v", map[string]any(a))
	sb := fmt.Sprintf("%v", map[string]any(b))
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func sortEventSourced(c snapshot.Collection) {
	sort.Slice(c, func(i, j int) bool {
		ki, kj := eventSortKey(c[i]), eventSortKey(c[j])
		if ki != kj {
			return ki < kj
		}
		return c[i].ID() < c[j].ID()
	})
}

// eventSortKey orders event-sourced records chronologically. ISO instants
// sort lexicographically, so plain string comparison is enough.
func eventSortKey(r snapshot.Record) string {
	if s, ok := r["createdAt"].(string); ok {
		return s
	}
	if s, ok := r[snapshot.FieldUpdatedAt].(string); ok {
		return s
	}
	return ""
}

// mergeMutable reconciles one mutable-projection collection. It returns the
// merged records, the ambiguous ties broken along the way, and whether the
// collection was resolvable at all.
func mergeMutable(name string, base, local, remote snapshot.Collection, opts Options) (snapshot.Collection, []AmbiguousTie, bool) {
	baseByID := base.ByID()
	localByID := local.ByID()
	remoteByID := remote.ByID()

	ids := make([]string, 0, len(localByID)+len(remoteByID))
	seen := make(map[string]struct{})
	for id := range localByID {
		ids = append(ids, id)
		seen[id] = struct{}{}
	}
	for id := range remoteByID {
		if _, dup := seen[id]; !dup {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make(snapshot.Collection, 0, len(ids))
	var ties []AmbiguousTie
	resolvable := true

	for _, id := range ids {
		lr, inLocal := localByID[id]
		rr, inRemote := remoteByID[id]
		br, inBase := baseByID[id]

		switch {
		case inLocal && inRemote:
			if lr.Equal(rr) {
				out = append(out, lr.Clone())
				continue
			}
			if opts.Strict {
				resolvable = false
				continue
			}
			winner, tie, ok := resolveEdit(name, id, lr, rr)
			if !ok {
				resolvable = false
				continue
			}
			if tie != nil {
				ties = append(ties, *tie)
			}
			out = append(out, winner.Clone())

		case inLocal:
			// Absent remotely. Without a base this is simply a local
			// creation; with a base it may be a remote deletion.
			if !inBase {
				out = append(out, lr.Clone())
				continue
			}
			if lr.Equal(br) {
				// Local never touched it and the other side deleted it:
				// the deletion wins.
				continue
			}
			// Local edited what the other side deleted.
			resolvable = false

		case inRemote:
			if !inBase {
				out = append(out, rr.Clone())
				continue
			}
			if rr.Equal(br) {
				continue // deletion by this device wins
			}
			// This device deleted what the other side edited.
			resolvable = false
		}
	}

	if !resolvable {
		return nil, ties, false
	}
	return out, ties, true
}

// resolveEdit settles an edit-edit difference on a single record. A strictly
// newer updatedAt wins outright. Equal timestamps are resolvable only when
// exactly one field differs and both sides carry distinct createdBy ids; the
// lexicographically smaller createdBy wins and the tie is reported for
// auditing. Anything more extensive is a genuine conflict.
func resolveEdit(collection, id string, local, remote snapshot.Record) (snapshot.Record, *AmbiguousTie, bool) {
	lt, lok := local.UpdatedAt()
	rt, rok := remote.UpdatedAt()

	switch {
	case lok && rok && lt.After(rt):
		return local, nil, true
	case lok && rok && rt.After(lt):
		return remote, nil, true
	case lok != rok:
		// Only one side carries a usable timestamp; treat it as the edit.
		if lok {
			return local, nil, true
		}
		return remote, nil, true
	}

	// Equal (or equally missing) timestamps.
	diff := local.DiffFields(remote)
	if len(diff) == 0 {
		// Only bookkeeping fields differ; keep either, deterministically.
		if recordOrder(local, remote) <= 0 {
			return local, nil, true
		}
		return remote, nil, true
	}
	if len(diff) != 1 {
		return nil, nil, false
	}
	lc, rc := local.CreatedBy(), remote.CreatedBy()
	if lc == "" || rc == "" || lc == rc {
		return nil, nil, false
	}

	winner := local
	winnerDevice := lc
	if rc < lc {
		winner = remote
		winnerDevice = rc
	}
	return winner, &AmbiguousTie{
		Collection: collection,
		RecordID:   id,
		Field:      diff[0],
		Winner:     winnerDevice,
	}, true
}
