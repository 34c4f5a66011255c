package possync

import "time"

// State is the coarse sync status surfaced to status indicators.
type State int

const (
	StateIdle State = iota
	StateInProgress
	StateConflicted
	StateFailed
	StateSucceeded
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "in-progress"
	case StateConflicted:
		return "conflicted"
	case StateFailed:
		return "failed"
	case StateSucceeded:
		return "succeeded"
	default:
		return "idle"
	}
}

// Phase is the fine-grained position inside a running cycle, matching the
// orchestrator's state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePulling
	PhaseReconciling
	PhaseFastForward
	PhaseMerging
	PhaseConflicted
	PhasePushing
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhasePulling:
		return "pulling"
	case PhaseReconciling:
		return "reconciling"
	case PhaseFastForward:
		return "fast-forward"
	case PhaseMerging:
		return "merging"
	case PhaseConflicted:
		return "conflicted"
	case PhasePushing:
		return "pushing"
	case PhaseError:
		return "error"
	default:
		return "idle"
	}
}

// Status is the structured sync state for UI collaborators.
type Status struct {
	State State
	Phase Phase

	// Conflicts lists unresolvable collections while State is
	// StateConflicted.
	Conflicts []string

	// Err is the failure while State is StateFailed.
	Err error

	// LastSuccess is when the last cycle completed successfully.
	LastSuccess time.Time
}
