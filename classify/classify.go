// Package classify holds the static merge policy for every business
// collection in the POS snapshot. It exists as its own package so that adding
// a collection is a one-line policy decision rather than new merge code.
package classify

// Class determines how a collection is merged.
type Class int

const (
	// MutableProjection marks collections whose records are edited or
	// deleted in place. Merging them is conflict-prone.
	MutableProjection Class = iota

	// EventSourced marks append-only collections. Records are never mutated
	// after creation except through declared append-only sub-lists, so a
	// union by id is always safe.
	EventSourced
)

func (c Class) String() string {
	if c == EventSourced {
		return "event-sourced"
	}
	return "mutable-projection"
}

// AppendList declares an append-only sub-list inside an event-sourced record,
// such as a transaction's payment list.
type AppendList struct {
	// Field is the record field holding the sub-list.
	Field string

	// SortField orders the merged sub-list deterministically. It holds an
	// ISO instant, so lexicographic order is chronological order.
	SortField string
}

// Policy is the complete merge policy for one collection.
type Policy struct {
	Class       Class
	AppendLists []AppendList
}

// The policy table. Collection names follow the original POS document format.
var policies = map[string]Policy{
	// Event-sourced: created once, never destructively edited.
	"transactions": {
		Class:       EventSourced,
		AppendLists: []AppendList{{Field: "payments", SortField: "createdAt"}},
	},
	"stockAdjustments": {Class: EventSourced},
	"purchases":        {Class: EventSourced},
	"expenses":         {Class: EventSourced},
	"otherIncomes":     {Class: EventSourced},
	"auditLogs":        {Class: EventSourced},
	"sessionHistory":   {Class: EventSourced},

	// Mutable projections: edited and deleted in place.
	"products":            {Class: MutableProjection},
	"rawMaterials":        {Class: MutableProjection},
	"customers":           {Class: MutableProjection},
	"suppliers":           {Class: MutableProjection},
	"settings":            {Class: MutableProjection},
	"discountDefinitions": {Class: MutableProjection},
}

// Classify returns the merge class for a collection. Unknown collections are
// treated as mutable projections so a missing policy entry surfaces as a
// conflict instead of a silent union.
func Classify(collection string) Class {
	return Lookup(collection).Class
}

// Lookup returns the full policy for a collection.
func Lookup(collection string) Policy {
	if p, ok := policies[collection]; ok {
		return p
	}
	return Policy{Class: MutableProjection}
}

// Known reports whether the collection has an explicit policy entry.
func Known(collection string) bool {
	_, ok := policies[collection]
	return ok
}
