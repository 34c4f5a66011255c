package classify

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		collection string
		want       Class
	}{
		{"transactions", EventSourced},
		{"stockAdjustments", EventSourced},
		{"purchases", EventSourced},
		{"expenses", EventSourced},
		{"auditLogs", EventSourced},
		{"products", MutableProjection},
		{"rawMaterials", MutableProjection},
		{"customers", MutableProjection},
		{"settings", MutableProjection},
		{"suppliers", MutableProjection},
		{"somethingNew", MutableProjection}, // unknown defaults to conflict-prone
	}

	for _, tt := range tests {
		t.Run(tt.collection, func(t *testing.T) {
			if got := Classify(tt.collection); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.collection, got, tt.want)
			}
		})
	}
}

func TestTransactionsDeclarePaymentsSubList(t *testing.T) {
	p := Lookup("transactions")
	if len(p.AppendLists) != 1 {
		t.Fatalf("append lists = %v", p.AppendLists)
	}
	al := p.AppendLists[0]
	if al.Field != "payments" || al.SortField != "createdAt" {
		t.Errorf("unexpected append list rule: %+v", al)
	}
}

func TestKnown(t *testing.T) {
	if !Known("products") {
		t.Error("products should be a known collection")
	}
	if Known("wibble") {
		t.Error("wibble should be unknown")
	}
}
