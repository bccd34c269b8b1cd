package execution

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidExperiment is returned when an experiment definition is incomplete.
	ErrInvalidExperiment = errors.New("invalid experiment")
)

// BaselineScheduler names experiments that run without a scheduler process.
const BaselineScheduler = "None"

// Experiment is one harness invocation: a scheduler (optional) observed
// while a benchmark driver runs to completion.
type Experiment struct {
	ID   string `json:"id"`   // UUID
	Name string `json:"name"` // See ExperimentName

	Scheduler  string   `json:"scheduler"`
	Flags      []string `json:"flags,omitempty"`
	Benchmarks []string `json:"benchmarks"`
	Iterations int      `json:"iterations"`

	State ExperimentState `json:"state"`

	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Duration    *time.Duration `json:"duration,omitempty"`

	ExitCode     int    `json:"exit_code"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewExperiment creates a pending experiment.
func NewExperiment(id, scheduler string, flags, benchmarks []string, iterations int, now time.Time) *Experiment {
	if scheduler == "" {
		scheduler = BaselineScheduler
	}
	return &Experiment{
		ID:         id,
		Name:       ExperimentName(benchmarks, iterations, scheduler, flags),
		Scheduler:  scheduler,
		Flags:      append([]string(nil), flags...),
		Benchmarks: append([]string(nil), benchmarks...),
		Iterations: iterations,
		State:      StatePending,
		CreatedAt:  now,
	}
}

// Validate validates the experiment definition.
func (e *Experiment) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidExperiment)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidExperiment)
	}
	if !e.State.IsValid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidExperiment, e.State)
	}
	return nil
}

// IsBaseline reports whether the experiment runs without a scheduler.
func (e *Experiment) IsBaseline() bool {
	return e.Scheduler == BaselineScheduler
}

// IsCompleted checks if the experiment is in a terminal state.
func (e *Experiment) IsCompleted() bool {
	return e.State.IsTerminal()
}

// SetState sets the state with validation.
// Returns an error if the transition is invalid.
func (e *Experiment) SetState(newState ExperimentState) error {
	if !e.State.CanTransitionTo(newState) {
		return &InvalidStateTransitionError{
			From: e.State,
			To:   newState,
		}
	}
	e.State = newState
	return nil
}

// MarkStarted records the start time and moves to running.
func (e *Experiment) MarkStarted(now time.Time) error {
	if err := e.SetState(StateRunning); err != nil {
		return err
	}
	e.StartedAt = &now
	return nil
}

// Finish moves the experiment to a terminal state and records its duration.
func (e *Experiment) Finish(state ExperimentState, now time.Time, cause error) error {
	if err := e.SetState(state); err != nil {
		return err
	}
	e.CompletedAt = &now
	if cause != nil {
		e.ErrorMessage = cause.Error()
	}
	e.CalculateDuration()
	return nil
}

// CalculateDuration calculates and sets the duration based on started_at and completed_at.
func (e *Experiment) CalculateDuration() {
	if e.StartedAt != nil && e.CompletedAt != nil {
		duration := e.CompletedAt.Sub(*e.StartedAt)
		e.Duration = &duration
	}
}

// ToJSON serializes the experiment to JSON.
func (e *Experiment) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// InvalidStateTransitionError represents an invalid state transition.
type InvalidStateTransitionError struct {
	From ExperimentState
	To   ExperimentState
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// ExperimentName builds "<benchmarks>-<iterations>-<scheduler>-<flags>",
// the result file stem used by the grid runner. Flags are concatenated
// without a separator.
func ExperimentName(benchmarks []string, iterations int, scheduler string, flags []string) string {
	if scheduler == "" {
		scheduler = BaselineScheduler
	}
	return strings.Join([]string{
		strings.Join(benchmarks, "_"),
		strconv.Itoa(iterations),
		scheduler,
		strings.Join(flags, ""),
	}, "-")
}
