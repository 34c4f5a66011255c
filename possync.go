// Package possync synchronizes the offline-first business state of POS
// branch devices through a single shared remote blob. Each device owns its
// snapshot locally and stays fully operational offline; a sync cycle pulls
// the remote document, reconciles it three-way against the local snapshot,
// and pushes the result back under an optimistic-concurrency guard.
package possync

import (
	"context"
	"time"

	"github.com/arteapos/possync/snapshot"
)

// Revision is the opaque version token of the remote blob. Different remote
// stores expose different formats (ETags, counters, uuids), so revisions
// support only equality, never ordering.
type Revision string

// IsZero reports whether the token is absent, meaning "no snapshot
// published yet" on writes.
func (r Revision) IsZero() bool { return r == "" }

// RemoteStore abstracts the shared blob store. Implementations have no
// business knowledge; they move one document and its revision token.
type RemoteStore interface {
	// Fetch returns the current remote snapshot and its revision token.
	// A store holding no document yet returns an errors.KindNotFound error.
	Fetch(ctx context.Context) (*snapshot.Snapshot, Revision, error)

	// Write atomically replaces the remote document, but only while its
	// revision still equals expected; otherwise it fails with an
	// errors.KindRevisionMismatch error and the caller must reconcile
	// before trying again. A zero expected revision is a create-only write.
	// Network, timeout and auth failures surface as errors.KindTransport
	// and are always retryable.
	Write(ctx context.Context, snap *snapshot.Snapshot, expected Revision) (Revision, error)

	// Close releases any resources held by the transport.
	Close() error
}

// Decision is the operator's answer to an unresolvable conflict.
type Decision int

const (
	// DecisionNone means no decision was made; the cycle stays conflicted.
	DecisionNone Decision = iota

	// MergeAndRetry applies the best-effort merge: event-sourced collections
	// merged automatically, unresolvable collections taken from the remote
	// side wholesale, then the push is retried.
	MergeAndRetry

	// ForceOverwriteRemote pushes the local snapshot as-is, discarding the
	// remote version. The write still uses the fetched revision token, so a
	// third device's concurrent write is still detected.
	ForceOverwriteRemote
)

func (d Decision) String() string {
	switch d {
	case MergeAndRetry:
		return "merge-and-retry"
	case ForceOverwriteRemote:
		return "force-overwrite-remote"
	default:
		return "none"
	}
}

// Conflict packages everything an operator needs to decide.
type Conflict struct {
	// Collections that could not be merged automatically, sorted.
	Collections []string

	// Preview is the best-effort merged snapshot (remote wins inside the
	// conflicted collections).
	Preview *snapshot.Snapshot

	// Local and Remote are the two sides as they were reconciled.
	Local  *snapshot.Snapshot
	Remote *snapshot.Snapshot
}

// ConflictGate surfaces the explicit decision point when reconciliation
// cannot proceed unattended. It holds no merge logic; it only presents the
// merge engine's output and returns one of the two predefined resolutions.
type ConflictGate interface {
	PresentConflict(ctx context.Context, c *Conflict) (Decision, error)
}

// GateFunc adapts a function to the ConflictGate interface.
type GateFunc func(ctx context.Context, c *Conflict) (Decision, error)

func (f GateFunc) PresentConflict(ctx context.Context, c *Conflict) (Decision, error) {
	return f(ctx, c)
}

// FixedGate always answers with the same decision. Useful for unattended
// deployments and tests.
type FixedGate struct {
	Decision Decision
}

func (g FixedGate) PresentConflict(context.Context, *Conflict) (Decision, error) {
	return g.Decision, nil
}

// RetryConfig configures retries of transient transport failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Multiplier is the factor the delay grows by between retries.
	Multiplier float64
}

// DefaultRetryConfig mirrors the behavior the engine ships with.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// SyncResult reports what one sync cycle did.
type SyncResult struct {
	// FastForwarded is true when the remote snapshot was adopted wholesale.
	FastForwarded bool

	// Pushed is true when a write to the remote store succeeded.
	Pushed bool

	// UpToDate is true when there was nothing to do on either side.
	UpToDate bool

	// FirstPublish is true when this cycle created the remote document.
	FirstPublish bool

	// Forced is true when the operator chose to overwrite the remote.
	Forced bool

	// Conflicts lists the collections the merge engine reported
	// unresolvable, when the cycle ended conflicted.
	Conflicts []string

	// Ties is the number of ambiguous ties broken deterministically.
	Ties int

	// Attempts counts full pull/reconcile/push rounds, including re-pulls
	// forced by revision mismatches.
	Attempts int

	// Revision is the remote revision after the cycle.
	Revision Revision

	StartTime time.Time
	Duration  time.Duration
}

// MetricsCollector receives observability hooks from the Syncer. All methods
// must be safe for concurrent use.
type MetricsCollector interface {
	// RecordCycle records a completed sync cycle and its duration.
	RecordCycle(outcome string, duration time.Duration)

	// RecordConflict records a cycle halted on unresolvable collections.
	RecordConflict(collections []string)

	// RecordRetry records a re-pull forced by a revision mismatch.
	RecordRetry()

	// RecordTies records ambiguous ties broken during a merge.
	RecordTies(count int)
}

// NoOpMetrics is the default collector; it does nothing.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordCycle(string, time.Duration) {}
func (NoOpMetrics) RecordConflict([]string)           {}
func (NoOpMetrics) RecordRetry()                      {}
func (NoOpMetrics) RecordTies(int)                    {}
