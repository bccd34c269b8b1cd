// Package usecase defines the interfaces the harness depends on and the
// use cases that drive experiments. Infrastructure packages implement
// the interfaces.
package usecase

import (
	"context"
	"errors"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/report"
)

var (
	// ErrExperimentNotFound is returned when an experiment is not found.
	ErrExperimentNotFound = errors.New("experiment not found")
)

// =============================================================================
// Experiment Repository Interface
// =============================================================================

// ExperimentRepository defines the interface for experiment history.
type ExperimentRepository interface {
	// Save saves an experiment. If it already exists (by ID), it is updated.
	Save(ctx context.Context, exp *execution.Experiment) error

	// SaveResults replaces the run times and samples of an experiment.
	SaveResults(ctx context.Context, experimentID string, agg *execution.Aggregate) error

	// FindByID finds an experiment by its ID.
	FindByID(ctx context.Context, id string) (*execution.Experiment, error)

	// FindByName finds the most recent experiment with the given name.
	FindByName(ctx context.Context, name string) (*execution.Experiment, error)

	// FindAll finds experiments with optional filtering and pagination.
	FindAll(ctx context.Context, opts FindOptions) ([]*execution.Experiment, error)

	// ExistsByName reports whether a completed experiment has this name.
	ExistsByName(ctx context.Context, name string) (bool, error)

	// GetRunTimes returns the elapsed times of every benchmark, in run order.
	GetRunTimes(ctx context.Context, experimentID string) (map[string][]float64, error)

	// Delete deletes an experiment and its results.
	Delete(ctx context.Context, id string) error
}

// FindOptions defines options for finding experiments.
type FindOptions struct {
	Limit       int                        // Maximum number of results
	Offset      int                        // Number of results to skip
	StateFilter *execution.ExperimentState // Filter by state
	Scheduler   string                     // Filter by scheduler
	SortBy      string                     // Sort field: created_at, started_at, duration_seconds, name
	SortOrder   string                     // Sort order: ASC, DESC
}

// =============================================================================
// Settings Repository Interface
// =============================================================================

// SettingsRepository defines the interface for configuration persistence.
type SettingsRepository interface {
	// GetConfig loads the configuration, or the defaults if none is stored.
	GetConfig(ctx context.Context) (*config.Config, error)

	// SaveConfig saves the configuration.
	SaveConfig(ctx context.Context, cfg *config.Config) error

	// ResetToDefaults discards the stored configuration.
	ResetToDefaults(ctx context.Context) error

	// GetConfigPath returns where the configuration is stored.
	GetConfigPath() string
}

// =============================================================================
// Result Sinks
// =============================================================================

// ResultSink persists the frozen result of one experiment.
// Sinks run concurrently and must not modify their inputs.
type ResultSink interface {
	// Name identifies the sink in logs.
	Name() string

	// Persist writes the result.
	Persist(ctx context.Context, exp *execution.Experiment, agg *execution.Aggregate, raw report.RawOutput) error
}

// ResultIndex answers whether a result already exists for an experiment name.
type ResultIndex interface {
	Has(ctx context.Context, name string) (bool, error)
}
