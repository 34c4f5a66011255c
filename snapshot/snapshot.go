// Package snapshot defines the complete local business state of one POS
// device and the store that owns it. A snapshot is a flat JSON-like document
// mapping collection names (products, transactions, customers, ...) to their
// records, plus the revision metadata the sync engine needs.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/arteapos/possync/errors"
)

// SchemaVersion is bumped when the wire document layout changes.
const SchemaVersion = 1

// Field names every record shares. They match the original POS document
// format, which serializes records with camelCase keys.
const (
	FieldID        = "id"
	FieldUpdatedAt = "updatedAt"
	FieldCreatedBy = "createdBy"
)

// Record is a single entity inside a collection. Records are schemaless at
// this layer; the engine only interprets the shared fields above plus any
// append-only sub-lists the classifier declares.
type Record map[string]any

// ID returns the record identifier, or "" when missing.
func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// UpdatedAt parses the record's last-mutation instant. The second return
// value is false when the field is absent or malformed.
func (r Record) UpdatedAt() (time.Time, bool) {
	s, ok := r[FieldUpdatedAt].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CreatedBy returns the originating device id, used only as a deterministic
// tie-breaker during merge.
func (r Record) CreatedBy() string {
	d, _ := r[FieldCreatedBy].(string)
	return d
}

// SubList returns the named field as a list of records, for append-only
// sub-lists such as a transaction's payments.
func (r Record) SubList(field string) ([]Record, bool) {
	raw, ok := r[field].([]any)
	if !ok {
		return nil, false
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, Record(m))
	}
	return out, true
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return cloneValue(map[string]any(r)).(map[string]any)
}

// Equal reports whether two records carry identical content.
func (r Record) Equal(other Record) bool {
	return equalValue(map[string]any(r), map[string]any(other))
}

// DiffFields returns the sorted field names whose values differ between the
// two records. The bookkeeping fields updatedAt and createdBy are ignored:
// they describe who produced a version, not what the record says.
func (r Record) DiffFields(other Record) []string {
	seen := make(map[string]struct{}, len(r)+len(other))
	var diff []string
	for k := range r {
		seen[k] = struct{}{}
	}
	for k := range other {
		seen[k] = struct{}{}
	}
	for k := range seen {
		if k == FieldUpdatedAt || k == FieldCreatedBy {
			continue
		}
		av, aok := r[k]
		bv, bok := other[k]
		if aok != bok || !equalValue(av, bv) {
			diff = append(diff, k)
		}
	}
	sort.Strings(diff)
	return diff
}

// Collection holds the records of one collection.
type Collection []Record

// ByID indexes the collection by record id.
func (c Collection) ByID() map[string]Record {
	m := make(map[string]Record, len(c))
	for _, r := range c {
		m[r.ID()] = r
	}
	return m
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for i, r := range c {
		out[i] = r.Clone()
	}
	return out
}

// Snapshot is the complete business state of one device at one instant.
type Snapshot struct {
	// DeviceID identifies the device/branch that owns this snapshot.
	DeviceID string

	// LastSyncedRevision is the remote revision token this snapshot was
	// derived from at its last successful pull. Empty means never synced.
	LastSyncedRevision string

	// Collections maps collection name to contents.
	Collections map[string]Collection
}

// New returns an empty snapshot owned by the given device.
func New(deviceID string) *Snapshot {
	return &Snapshot{
		DeviceID:    deviceID,
		Collections: make(map[string]Collection),
	}
}

// Collection returns the named collection, which may be nil.
func (s *Snapshot) Collection(name string) Collection {
	return s.Collections[name]
}

// CollectionNames returns the sorted names of all non-empty collections.
func (s *Snapshot) CollectionNames() []string {
	names := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasRecords reports whether any collection holds at least one record.
func (s *Snapshot) HasRecords() bool {
	for _, c := range s.Collections {
		if len(c) > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		DeviceID:           s.DeviceID,
		LastSyncedRevision: s.LastSyncedRevision,
		Collections:        make(map[string]Collection, len(s.Collections)),
	}
	for name, c := range s.Collections {
		out.Collections[name] = c.Clone()
	}
	return out
}

// Validate checks the local invariants: every record carries an id and ids
// are unique within their collection. Violations abort the sync cycle.
func (s *Snapshot) Validate() error {
	for name, c := range s.Collections {
		seen := make(map[string]struct{}, len(c))
		for i, r := range c {
			id := r.ID()
			if id == "" {
				return errors.NewValidationError(errors.OpValidate,
					fmt.Errorf("collection %q: record at index %d has no id", name, i))
			}
			if _, dup := seen[id]; dup {
				return errors.NewValidationError(errors.OpValidate,
					fmt.Errorf("collection %q: duplicate id %q", name, id))
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}

// document is the wire form of a snapshot: one flat JSON blob shared through
// the remote store.
type document struct {
	SchemaVersion int                         `json:"schemaVersion"`
	DeviceID      string                      `json:"deviceId"`
	Collections   map[string][]map[string]any `json:"collections"`
}

// Marshal serializes the snapshot as the single-blob wire document.
// LastSyncedRevision is local bookkeeping and deliberately not included.
func Marshal(s *Snapshot) ([]byte, error) {
	doc := document{
		SchemaVersion: SchemaVersion,
		DeviceID:      s.DeviceID,
		Collections:   make(map[string][]map[string]any, len(s.Collections)),
	}
	for name, c := range s.Collections {
		records := make([]map[string]any, len(c))
		for i, r := range c {
			records[i] = map[string]any(r)
		}
		doc.Collections[name] = records
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.E(errors.OpSerialize, "snapshot", errors.KindInternal, err)
	}
	return data, nil
}

// Unmarshal parses a wire document back into a snapshot.
func Unmarshal(data []byte) (*Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.E(errors.OpSerialize, "snapshot", errors.KindValidation, err)
	}
	if doc.SchemaVersion != SchemaVersion {
		return nil, errors.Errorf(errors.OpSerialize, "snapshot", errors.KindValidation,
			"unsupported schema version %d (want %d)", doc.SchemaVersion, SchemaVersion)
	}
	s := New(doc.DeviceID)
	for name, records := range doc.Collections {
		c := make(Collection, len(records))
		for i, r := range records {
			c[i] = Record(r)
		}
		s.Collections[name] = c
	}
	return s, nil
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// equalValue compares JSON-shaped values. Numbers are compared through
// float64 so values that round-tripped through encoding/json compare equal
// to their in-memory originals.
func equalValue(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, item := range av {
			other, ok := bv[k]
			if !ok || !equalValue(item, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, item := range av {
			if !equalValue(item, bv[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		if af, ok := toFloat(a); ok {
			if bf, ok := toFloat(b); ok {
				return af == bf
			}
			return false
		}
		return a == b
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
