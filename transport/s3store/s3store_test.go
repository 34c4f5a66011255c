package s3store

import (
	"context"
	"fmt"
	"testing"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/arteapos/possync/errors"
)

func TestMapError(t *testing.T) {
	st := &Store{bucket: "b", key: "k"}

	tests := []struct {
		name      string
		err       error
		kind      errors.Kind
		retryable bool
	}{
		{
			name: "missing object type",
			err:  &s3types.NoSuchKey{},
			kind: errors.KindNotFound,
		},
		{
			name: "missing object code",
			err:  &smithy.GenericAPIError{Code: "NoSuchKey"},
			kind: errors.KindNotFound,
		},
		{
			name: "precondition failed",
			err:  &smithy.GenericAPIError{Code: "PreconditionFailed"},
			kind: errors.KindRevisionMismatch,
		},
		{
			name: "concurrent conditional writes",
			err:  &smithy.GenericAPIError{Code: "ConditionalRequestConflict"},
			kind: errors.KindRevisionMismatch,
		},
		{
			name:      "throttled",
			err:       &smithy.GenericAPIError{Code: "SlowDown"},
			kind:      errors.KindTransport,
			retryable: true,
		},
		{
			name: "access denied is terminal",
			err:  &smithy.GenericAPIError{Code: "AccessDenied"},
			kind: errors.KindTransport,
		},
		{
			name:      "wire failure",
			err:       fmt.Errorf("connection reset"),
			kind:      errors.KindTransport,
			retryable: true,
		},
		{
			name:      "cancellation",
			err:       fmt.Errorf("request: %w", context.Canceled),
			kind:      errors.KindTransport,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := st.mapError(errors.OpPush, tt.err, "rev-1")
			if !errors.IsKind(mapped, tt.kind) {
				t.Fatalf("kind = %v, want %v (err %v)", errors.KindOf(mapped), tt.kind, mapped)
			}
			if errors.IsRetryable(mapped) != tt.retryable {
				t.Fatalf("retryable = %v, want %v", errors.IsRetryable(mapped), tt.retryable)
			}
		})
	}
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if !errors.IsKind(err, errors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewDefaultsKey(t *testing.T) {
	st, err := New(context.Background(), Config{Bucket: "pos-data", Region: "ap-southeast-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if st.key != "possync/snapshot.json" {
		t.Fatalf("default key = %q", st.key)
	}
}
