package possync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/arteapos/possync/errors"
	"github.com/arteapos/possync/logging"
	"github.com/arteapos/possync/merge"
	"github.com/arteapos/possync/snapshot"
)

// Options configures a Syncer.
type Options struct {
	// Strict forces every differing mutable-projection collection into the
	// conflict path instead of applying last-writer-wins.
	Strict bool

	// MaxPushAttempts bounds the pull/reconcile/push rounds a single Sync
	// call performs when racing other writers. Default 5.
	MaxPushAttempts int

	// MismatchBackoff is the initial delay between rounds after a revision
	// mismatch. Default 250ms, growing exponentially.
	MismatchBackoff time.Duration

	// Retry configures transient transport retries. Nil disables them.
	Retry *RetryConfig

	// Timeout bounds each individual remote call. Zero means no per-call
	// timeout beyond the caller's context.
	Timeout time.Duration

	// Gate decides conflicts. Nil means conflicts halt the cycle with a
	// KindConflict error.
	Gate ConflictGate

	// SyncInterval enables StartAutoSync at this period.
	SyncInterval time.Duration

	// AuditTrail appends audit records for broken ties and gate decisions
	// to the snapshot's auditLogs collection.
	AuditTrail bool

	// Metrics receives observability hooks. Nil means no-op.
	Metrics MetricsCollector

	// Logger for structured output. Nil uses the package default.
	Logger *logging.Logger
}

func (o *Options) setDefaults() {
	if o.MaxPushAttempts <= 0 {
		o.MaxPushAttempts = 5
	}
	if o.MismatchBackoff <= 0 {
		o.MismatchBackoff = 250 * time.Millisecond
	}
	if o.Metrics == nil {
		o.Metrics = NoOpMetrics{}
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

// Syncer drives the push/pull protocol between the local snapshot store and
// the shared remote blob. One cycle runs to completion (or to a halted
// conflicted/failed state) before another may start; UI collaborators keep
// mutating the local store throughout, and their mid-cycle edits simply ride
// along into the next cycle.
type Syncer struct {
	store  *snapshot.Store
	remote RemoteStore
	opts   Options
	log    *logging.Logger

	mu       stdsync.Mutex // guards inFlight and autoStop
	inFlight bool
	autoStop chan struct{}

	statusMu stdsync.RWMutex
	status   Status
	subs     []func(Status)
}

// ErrSyncInProgress is returned when Sync is called while a cycle is already
// running on this device.
var ErrSyncInProgress = errors.Errorf(errors.OpSync, "syncer", errors.KindInternal,
	"a sync cycle is already in progress")

// New creates a Syncer. opts may be nil.
func New(store *snapshot.Store, remote RemoteStore, opts *Options) *Syncer {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.setDefaults()
	return &Syncer{
		store:  store,
		remote: remote,
		opts:   o,
		log:    o.Logger.WithComponent("syncer"),
	}
}

// Status returns the current sync status.
func (s *Syncer) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Subscribe registers fn to receive every status change. Handlers run on
// their own goroutine.
func (s *Syncer) Subscribe(fn func(Status)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.subs = append(s.subs, fn)
}

// Sync runs one complete cycle: pull, reconcile, push. Revision mismatches
// re-enter the pull phase automatically, bounded by MaxPushAttempts. The
// local snapshot is only ever replaced atomically at cycle completion; any
// failure leaves it untouched.
func (s *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	result := &SyncResult{StartTime: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartTime)
	}()

	for attempt := 1; attempt <= s.opts.MaxPushAttempts; attempt++ {
		result.Attempts = attempt

		err := s.cycle(ctx, result)
		switch {
		case err == nil:
			s.setStatus(Status{State: StateSucceeded, Phase: PhaseIdle, LastSuccess: time.Now()})
			s.opts.Metrics.RecordCycle(s.outcome(result), result.Duration)
			return result, nil

		case errors.IsKind(err, errors.KindRevisionMismatch):
			// Another device wrote between our fetch and push. Expected
			// under concurrent writers; re-pull and reconcile again.
			s.opts.Metrics.RecordRetry()
			s.log.Info("remote changed during push, re-pulling",
				"attempt", attempt, "max_attempts", s.opts.MaxPushAttempts)
			if attempt == s.opts.MaxPushAttempts {
				break
			}
			if werr := s.sleepBackoff(ctx, attempt); werr != nil {
				s.fail(result, werr)
				return result, werr
			}

		case errors.IsKind(err, errors.KindConflict):
			s.setStatus(Status{State: StateConflicted, Phase: PhaseConflicted, Conflicts: result.Conflicts})
			s.opts.Metrics.RecordConflict(result.Conflicts)
			s.opts.Metrics.RecordCycle("conflicted", result.Duration)
			return result, err

		default:
			s.fail(result, err)
			return result, err
		}
	}

	err := errors.Errorf(errors.OpSync, "syncer", errors.KindTransport,
		"gave up after %d attempts racing concurrent writers", s.opts.MaxPushAttempts)
	s.fail(result, err)
	return result, err
}

func (s *Syncer) outcome(result *SyncResult) string {
	switch {
	case result.UpToDate:
		return "up-to-date"
	case result.FirstPublish:
		return "first-publish"
	case result.FastForwarded:
		return "fast-forward"
	case result.Forced:
		return "forced"
	default:
		return "merged"
	}
}

func (s *Syncer) fail(result *SyncResult, err error) {
	s.setStatus(Status{State: StateFailed, Phase: PhaseError, Err: err})
	s.opts.Metrics.RecordCycle("failed", result.Duration)
	s.log.LogError(context.Background(), err, "sync cycle failed")
}

// cycle performs one pull/reconcile/push round.
func (s *Syncer) cycle(ctx context.Context, result *SyncResult) error {
	// Pulling.
	s.setStatus(Status{State: StateInProgress, Phase: PhasePulling})

	remoteSnap, remoteRev, err := s.fetch(ctx)
	remoteMissing := false
	if err != nil {
		if !errors.IsKind(err, errors.KindNotFound) {
			return err
		}
		remoteMissing = true
	}

	local, gen := s.store.Current()
	if err := local.Validate(); err != nil {
		return err
	}

	if remoteMissing {
		// Nothing published yet: this device creates the shared document.
		return s.push(ctx, result, gen, local, "", func(r *SyncResult) {
			r.FirstPublish = true
		})
	}

	// Reconciling.
	s.setStatus(Status{State: StateInProgress, Phase: PhaseReconciling})

	if string(remoteRev) == s.store.LastSyncedRevision() {
		// Nothing new remotely.
		if !s.store.Dirty() {
			result.UpToDate = true
			result.Revision = remoteRev
			return nil
		}
		// Local edits on top of the exact remote state: plain push.
		return s.push(ctx, result, gen, local, remoteRev, nil)
	}

	if err := remoteSnap.Validate(); err != nil {
		return err
	}

	if !s.store.Dirty() {
		// FastForward: pure read case, adopt the remote wholesale.
		s.setStatus(Status{State: StateInProgress, Phase: PhaseFastForward})
		adopted := remoteSnap.Clone()
		adopted.DeviceID = local.DeviceID
		if !s.store.Commit(gen, adopted, snapshot.SyncMark{Revision: string(remoteRev), SyncedAt: time.Now()}) {
			// A collaborator wrote during the fetch; reconcile against the
			// newer local state.
			return errors.NewRevisionMismatch("syncer", string(remoteRev)).WithRetryable(false)
		}
		result.FastForwarded = true
		result.Revision = remoteRev
		return nil
	}

	// Merging.
	s.setStatus(Status{State: StateInProgress, Phase: PhaseMerging})

	mres, err := merge.Merge(s.store.Base(), local, remoteSnap, merge.Options{Strict: s.opts.Strict})
	if err != nil {
		return err
	}
	result.Ties = len(mres.Ties)
	if len(mres.Ties) > 0 {
		s.opts.Metrics.RecordTies(len(mres.Ties))
	}

	merged := mres.Snapshot
	if !mres.OK() {
		result.Conflicts = mres.Unresolvable
		merged, err = s.resolveConflict(ctx, result, mres, local, remoteSnap)
		if err != nil {
			return err
		}
	}

	if s.opts.AuditTrail {
		s.appendTieAudit(merged, mres.Ties)
	}

	return s.push(ctx, result, gen, merged, remoteRev, nil)
}

// resolveConflict routes an unresolvable merge through the conflict gate and
// returns the snapshot to push.
func (s *Syncer) resolveConflict(ctx context.Context, result *SyncResult, mres *merge.Result, local, remote *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	s.setStatus(Status{State: StateConflicted, Phase: PhaseConflicted, Conflicts: mres.Unresolvable})

	if s.opts.Gate == nil {
		return nil, errors.Errorf(errors.OpReconcile, "syncer", errors.KindConflict,
			"unresolvable collections %v and no conflict gate configured", mres.Unresolvable)
	}

	decision, err := s.opts.Gate.PresentConflict(ctx, &Conflict{
		Collections: mres.Unresolvable,
		Preview:     mres.Snapshot,
		Local:       local,
		Remote:      remote,
	})
	if err != nil {
		return nil, errors.E(errors.OpGate, "syncer", errors.KindConflict, err)
	}

	var chosen *snapshot.Snapshot
	switch decision {
	case MergeAndRetry:
		// The preview already takes the remote side for the conflicted
		// collections; the local edits in just those collections are
		// discarded.
		chosen = mres.Snapshot
	case ForceOverwriteRemote:
		chosen = local
		result.Forced = true
	default:
		return nil, errors.Errorf(errors.OpGate, "syncer", errors.KindConflict,
			"operator declined to resolve collections %v", mres.Unresolvable)
	}

	s.log.Info("conflict resolved by operator",
		"decision", decision.String(), "collections", mres.Unresolvable)
	if s.opts.AuditTrail {
		appendAuditRecord(chosen, "SYNC_CONFLICT_DECISION",
			fmt.Sprintf("%s for collections %v", decision, mres.Unresolvable))
	}
	return chosen, nil
}

// push performs the conditional write and commits the result locally.
func (s *Syncer) push(ctx context.Context, result *SyncResult, gen uint64, snap *snapshot.Snapshot, expected Revision, annotate func(*SyncResult)) error {
	s.setStatus(Status{State: StateInProgress, Phase: PhasePushing})

	newRev, err := s.write(ctx, snap, expected)
	if err != nil {
		return err
	}

	if !s.store.Commit(gen, snap, snapshot.SyncMark{Revision: string(newRev), SyncedAt: time.Now()}) {
		// Local edits landed while the push was in flight. The remote now
		// holds what we pushed; the local store keeps the newer edits and
		// stays dirty, so the next cycle rebases them on top. Nothing is
		// lost: the conditional write still guards the remote side.
		s.log.Info("local snapshot changed during push, edits deferred to next cycle")
		return errors.NewRevisionMismatch("syncer", string(expected)).WithRetryable(false)
	}

	result.Pushed = true
	result.Revision = newRev
	if annotate != nil {
		annotate(result)
	}
	return nil
}

func (s *Syncer) fetch(ctx context.Context) (*snapshot.Snapshot, Revision, error) {
	var (
		snap *snapshot.Snapshot
		rev  Revision
	)
	err := s.withRetry(ctx, func() error {
		opCtx, cancel := s.callContext(ctx)
		defer cancel()
		var err error
		snap, rev, err = s.remote.Fetch(opCtx)
		return err
	})
	return snap, rev, err
}

func (s *Syncer) write(ctx context.Context, snap *snapshot.Snapshot, expected Revision) (Revision, error) {
	var rev Revision
	err := s.withRetry(ctx, func() error {
		opCtx, cancel := s.callContext(ctx)
		defer cancel()
		var err error
		rev, err = s.remote.Write(opCtx, snap, expected)
		return err
	})
	return rev, err
}

func (s *Syncer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

func (s *Syncer) setStatus(status Status) {
	s.statusMu.Lock()
	if status.LastSuccess.IsZero() {
		status.LastSuccess = s.status.LastSuccess
	}
	s.status = status
	subs := make([]func(Status), len(s.subs))
	copy(subs, s.subs)
	s.statusMu.Unlock()

	for _, fn := range subs {
		go func(handler func(Status)) {
			defer func() {
				_ = recover() // subscriber panics must not kill the engine
			}()
			handler(status)
		}(fn)
	}
}

// StartAutoSync runs Sync on the configured interval until StopAutoSync or
// ctx cancellation. Cycles that would overlap a running one are skipped.
func (s *Syncer) StartAutoSync(ctx context.Context) error {
	if s.opts.SyncInterval <= 0 {
		return errors.Errorf(errors.OpSync, "syncer", errors.KindInternal,
			"auto sync requires a positive SyncInterval")
	}

	s.mu.Lock()
	if s.autoStop != nil {
		s.mu.Unlock()
		return errors.Errorf(errors.OpSync, "syncer", errors.KindInternal,
			"auto sync is already running")
	}
	stop := make(chan struct{})
	s.autoStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.opts.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if _, err := s.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
					s.log.LogError(ctx, err, "auto sync cycle failed")
				}
			}
		}
	}()
	return nil
}

// StopAutoSync stops the periodic sync loop.
func (s *Syncer) StopAutoSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autoStop != nil {
		close(s.autoStop)
		s.autoStop = nil
	}
}

// Close stops auto sync and closes the remote transport.
func (s *Syncer) Close() error {
	s.StopAutoSync()
	return s.remote.Close()
}
