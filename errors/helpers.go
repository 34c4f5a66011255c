package errors

// NewTransportError wraps a network-level failure from a remote store.
func NewTransportError(op Operation, component string, cause error) *SyncError {
	return E(op, component, KindTransport, cause)
}

// NewRevisionMismatch reports that a conditional write found the remote
// revision no longer matches the expected token.
func NewRevisionMismatch(component string, expected string) *SyncError {
	return Errorf(OpPush, component, KindRevisionMismatch,
		"remote revision no longer matches %q", expected)
}

// NewNotFound reports that the remote store holds no snapshot document.
func NewNotFound(component string) *SyncError {
	return Errorf(OpFetch, component, KindNotFound, "no snapshot document published")
}

// NewValidationError reports a snapshot invariant violation.
func NewValidationError(op Operation, cause error) *SyncError {
	return E(op, "snapshot", KindValidation, cause)
}

// NewStorageError wraps a persistence backend failure.
func NewStorageError(op Operation, component string, cause error) *SyncError {
	return E(op, component, KindStorage, cause)
}

// Wrap attaches op and component to an existing error, preserving the kind
// and retryability of a wrapped SyncError. Returns nil when err is nil.
func Wrap(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	var se *SyncError
	if As(err, &se) {
		return &SyncError{
			Op:        op,
			Component: component,
			Kind:      se.Kind,
			Err:       err,
			Retryable: se.Retryable,
			Metadata:  se.Metadata,
		}
	}
	return E(op, component, KindInternal, err)
}
