// Package errors provides the structured error type used throughout the
// possync engine. Every failure the orchestrator has to branch on (remote
// document missing, revision mismatch, transient transport trouble, invalid
// snapshot) is expressed as a Kind so callers can dispatch deterministically
// instead of matching on error strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies what went wrong.
type Kind string

const (
	// KindTransport covers network failures, timeouts and auth expiry on the
	// remote store. Always retryable.
	KindTransport Kind = "TRANSPORT"

	// KindRevisionMismatch means a conditional write lost the race with
	// another device. Not retryable by resubmission; the caller must re-pull
	// and reconcile first.
	KindRevisionMismatch Kind = "REVISION_MISMATCH"

	// KindNotFound means the remote store holds no snapshot document yet.
	KindNotFound Kind = "NOT_FOUND"

	// KindConflict means reconciliation produced collections that cannot be
	// merged automatically.
	KindConflict Kind = "CONFLICT"

	// KindValidation means a snapshot violated a local invariant (duplicate
	// ids, missing ids, bad schema version). Fatal for the sync cycle.
	KindValidation Kind = "VALIDATION"

	// KindStorage covers failures in a persistence backend.
	KindStorage Kind = "STORAGE"

	// KindInternal is the catch-all for unexpected conditions.
	KindInternal Kind = "INTERNAL"
)

// Operation identifies the engine step an error originated from.
type Operation string

const (
	OpSync      Operation = "sync"
	OpFetch     Operation = "fetch"
	OpPush      Operation = "push"
	OpReconcile Operation = "reconcile"
	OpMerge     Operation = "merge"
	OpReplace   Operation = "replace"
	OpGate      Operation = "gate"
	OpValidate  Operation = "validate"
	OpSerialize Operation = "serialize"
	OpStore     Operation = "store"
	OpLoad      Operation = "load"
	OpClose     Operation = "close"
)

// SyncError is the structured error carried through the engine.
type SyncError struct {
	// Op is the operation during which the error occurred.
	Op Operation

	// Component is the part of the engine that produced it
	// (e.g. "transport/s3", "merge", "snapshot").
	Component string

	// Kind classifies the failure.
	Kind Kind

	// Err is the underlying cause.
	Err error

	// Retryable reports whether repeating the same operation can succeed.
	Retryable bool

	// Metadata carries optional context for logging.
	Metadata map[string]any
}

func (e *SyncError) Error() string {
	msg := string(e.Op) + " failed"
	if e.Component != "" {
		msg = fmt.Sprintf("%s failed in %s", e.Op, e.Component)
	}
	if e.Kind != "" {
		msg += fmt.Sprintf(" [%s]", e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error { return e.Err }

// retryableByDefault reports whether errors of this kind are worth repeating
// without any intervening action.
func retryableByDefault(kind Kind) bool {
	return kind == KindTransport || kind == KindStorage
}

// E builds a SyncError. Retryability follows the kind; use WithRetryable to
// override it.
func E(op Operation, component string, kind Kind, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Kind:      kind,
		Err:       err,
		Retryable: retryableByDefault(kind),
	}
}

// Errorf is E with a formatted cause.
func Errorf(op Operation, component string, kind Kind, format string, args ...any) *SyncError {
	return E(op, component, kind, fmt.Errorf(format, args...))
}

// WithRetryable overrides the kind-derived retryability.
func (e *SyncError) WithRetryable(retryable bool) *SyncError {
	e.Retryable = retryable
	return e
}

// WithMetadata attaches a key-value pair for logging.
func (e *SyncError) WithMetadata(key string, value any) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// As and Is re-export the standard library helpers so callers need only a
// single errors import.
func As(err error, target any) bool { return errors.As(err, target) }
func Is(err, target error) bool     { return errors.Is(err, target) }

// IsRetryable reports whether err is (or wraps) a retryable SyncError.
func IsRetryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) && se.Kind != "" {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Kind == kind
}
