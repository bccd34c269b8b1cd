// Package execution provides experiment and run-bucketing domain models.
package execution

// ExperimentState represents the state of one harness experiment.
type ExperimentState string

const (
	StatePending   ExperimentState = "pending"   // Created, processes not started
	StateRunning   ExperimentState = "running"   // Both streams being multiplexed
	StateDraining  ExperimentState = "draining"  // Benchmark closed, scheduler terminating
	StateCompleted ExperimentState = "completed" // Results persisted
	StateFailed    ExperimentState = "failed"    // Stream fault or start failure
	StateCancelled ExperimentState = "cancelled" // Context cancelled
)

// IsValid checks if the state is valid.
func (s ExperimentState) IsValid() bool {
	switch s {
	case StatePending, StateRunning, StateDraining,
		StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal checks if the state is a terminal state (no further transitions possible).
func (s ExperimentState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransitionTo checks if a transition from current state to target state is valid.
func (s ExperimentState) CanTransitionTo(target ExperimentState) bool {
	transitions := map[ExperimentState][]ExperimentState{
		StatePending:  {StateRunning, StateFailed, StateCancelled},
		StateRunning:  {StateDraining, StateFailed, StateCancelled},
		StateDraining: {StateCompleted, StateFailed, StateCancelled},
	}

	allowed, ok := transitions[s]
	if !ok {
		return false
	}

	for _, state := range allowed {
		if state == target {
			return true
		}
	}
	return false
}

// String implements Stringer interface.
func (s ExperimentState) String() string {
	return string(s)
}

// RunState is the per-benchmark state tracked by the Aggregator.
type RunState string

const (
	NoActiveRun RunState = "no_active_run"
	RunActive   RunState = "run_active"
)

// CanTransitionTo checks if a run state transition is valid.
func (s RunState) CanTransitionTo(target RunState) bool {
	switch s {
	case NoActiveRun:
		return target == RunActive
	case RunActive:
		return target == NoActiveRun
	default:
		return false
	}
}

// String implements Stringer interface.
func (s RunState) String() string {
	return string(s)
}
