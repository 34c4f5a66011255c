package snapshot

import (
	"testing"

	"github.com/arteapos/possync/errors"
)

func rec(id, updatedAt string, extra map[string]any) Record {
	r := Record{FieldID: id, FieldUpdatedAt: updatedAt}
	for k, v := range extra {
		r[k] = v
	}
	return r
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Snapshot
		wantErr bool
	}{
		{
			name: "valid snapshot",
			build: func() *Snapshot {
				s := New("branch-a")
				s.Collections["products"] = Collection{
					rec("p1", "2026-01-02T10:00:00Z", nil),
					rec("p2", "2026-01-02T10:00:00Z", nil),
				}
				return s
			},
		},
		{
			name: "duplicate id",
			build: func() *Snapshot {
				s := New("branch-a")
				s.Collections["products"] = Collection{
					rec("p1", "2026-01-02T10:00:00Z", nil),
					rec("p1", "2026-01-02T11:00:00Z", nil),
				}
				return s
			},
			wantErr: true,
		},
		{
			name: "missing id",
			build: func() *Snapshot {
				s := New("branch-a")
				s.Collections["expenses"] = Collection{Record{"amount": 5000}}
				return s
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsKind(err, errors.KindValidation) {
				t.Errorf("expected validation kind, got %s", errors.KindOf(err))
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	s := New("branch-a")
	s.LastSyncedRevision = "r7" // local bookkeeping, must not travel
	s.Collections["transactions"] = Collection{
		rec("t1", "2026-01-02T10:00:00Z", map[string]any{
			"total": 10000.0,
			"payments": []any{
				map[string]any{"id": "pay1", "amount": 10000.0, "createdAt": "2026-01-02T10:00:00Z"},
			},
		}),
	}

	data, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.DeviceID != "branch-a" {
		t.Errorf("DeviceID = %q", got.DeviceID)
	}
	if got.LastSyncedRevision != "" {
		t.Errorf("LastSyncedRevision leaked into wire document: %q", got.LastSyncedRevision)
	}
	tx := got.Collection("transactions")
	if len(tx) != 1 || tx[0].ID() != "t1" {
		t.Fatalf("transactions = %+v", tx)
	}
	payments, ok := tx[0].SubList("payments")
	if !ok || len(payments) != 1 || payments[0].ID() != "pay1" {
		t.Errorf("payments sub-list = %+v, ok=%v", payments, ok)
	}
	if !s.Collection("transactions")[0].Equal(tx[0]) {
		t.Error("record content changed across round trip")
	}
}

func TestUnmarshalRejectsUnknownSchema(t *testing.T) {
	_, err := Unmarshal([]byte(`{"schemaVersion":99,"deviceId":"x","collections":{}}`))
	if !errors.IsKind(err, errors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDiffFields(t *testing.T) {
	a := rec("p1", "2026-01-02T10:00:00Z", map[string]any{"name": "Coffee", "price": 12000.0})
	b := rec("p1", "2026-01-02T11:00:00Z", map[string]any{"name": "Coffee", "price": 15000.0})

	diff := a.DiffFields(b)
	if len(diff) != 1 || diff[0] != "price" {
		t.Errorf("DiffFields = %v, want [price]", diff)
	}

	c := rec("p1", "2026-01-02T11:00:00Z", map[string]any{"name": "Kopi", "price": 15000.0, "stock": 3.0})
	diff = a.DiffFields(c)
	if len(diff) != 3 {
		t.Errorf("DiffFields = %v, want 3 entries", diff)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := New("branch-a")
	s.Collections["products"] = Collection{
		rec("p1", "2026-01-02T10:00:00Z", map[string]any{
			"tags": []any{"drink"},
		}),
	}
	clone := s.Clone()
	clone.Collections["products"][0]["tags"].([]any)[0] = "food"

	if s.Collections["products"][0]["tags"].([]any)[0] != "drink" {
		t.Error("clone shares nested slice with original")
	}
}

func TestEqualValueNumericBridging(t *testing.T) {
	// Records built in memory hold ints; records off the wire hold float64.
	a := Record{FieldID: "p1", "price": 12000}
	b := Record{FieldID: "p1", "price": 12000.0}
	if !a.Equal(b) {
		t.Error("int and float64 of same value must compare equal")
	}
}

func TestUpdatedAtParsing(t *testing.T) {
	r := rec("p1", "2026-01-02T10:00:00.123Z", nil)
	ts, ok := r.UpdatedAt()
	if !ok || ts.IsZero() {
		t.Fatalf("UpdatedAt not parsed: %v %v", ts, ok)
	}
	if _, ok := (Record{FieldID: "x"}).UpdatedAt(); ok {
		t.Error("missing updatedAt reported as present")
	}
	if _, ok := (Record{FieldID: "x", FieldUpdatedAt: "yesterday"}).UpdatedAt(); ok {
		t.Error("malformed updatedAt reported as present")
	}
}
