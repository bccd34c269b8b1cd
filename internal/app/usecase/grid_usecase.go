package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/report"
)

// ExperimentRunner runs one experiment. HarnessUseCase implements it.
type ExperimentRunner interface {
	RunExperiment(ctx context.Context, cfg *config.Config) (*ExperimentResult, error)
}

// GridStatus is the outcome of one grid cell.
type GridStatus string

const (
	GridRan     GridStatus = "ran"
	GridSkipped GridStatus = "skipped"
	GridFailed  GridStatus = "failed"
)

// GridEntry is one experiment of a grid.
type GridEntry struct {
	Name      string
	Scheduler string
	Flags     []string
	Benchmark string
	Status    GridStatus
	Error     string
	Times     []float64
}

// GridSummary collects the outcome of a grid run.
type GridSummary struct {
	Entries []GridEntry

	// Comparisons hold each scheduler experiment against the baseline
	// experiment of the same benchmark, when the grid has one.
	Comparisons []report.Comparison
}

// Count returns the number of entries with the given status.
func (s *GridSummary) Count(status GridStatus) int {
	n := 0
	for _, e := range s.Entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

// GridUseCase runs every experiment of a grid: schedulers x flag sets x
// benchmarks, one scheduler process per experiment.
type GridUseCase struct {
	runner ExperimentRunner
	index  ResultIndex          // optional, enables skipping
	repo   ExperimentRepository // optional, supplies times of skipped experiments
	logger *slog.Logger
}

// NewGridUseCase creates a new grid use case.
func NewGridUseCase(runner ExperimentRunner, index ResultIndex, repo ExperimentRepository, logger *slog.Logger) *GridUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &GridUseCase{
		runner: runner,
		index:  index,
		repo:   repo,
		logger: logger.With(slog.String("component", "grid")),
	}
}

// Experiments expands the grid section of base into one configuration
// per experiment, in run order.
func Experiments(base *config.Config) []*config.Config {
	grid := base.Grid
	flagSets := grid.FlagSets
	if len(flagSets) == 0 {
		flagSets = [][]string{nil}
	}

	var out []*config.Config
	for _, sched := range grid.Schedulers {
		baseline := sched == "" || sched == execution.BaselineScheduler
		for fi, flags := range flagSets {
			// Flags do not apply to a baseline, so it runs once.
			if baseline && fi > 0 {
				break
			}
			for _, bench := range grid.Benchmarks {
				cfg := *base
				cfg.Benchmark.Benchmarks = []string{bench}
				cfg.Benchmark.Iterations = grid.Iterations

				if baseline {
					cfg.Scheduler = config.SchedulerConfig{Adapter: config.AdapterNone}
				} else {
					if !cfg.Scheduler.Enabled() {
						cfg.Scheduler.Adapter = config.AdapterSchedExt
					}
					cfg.Scheduler.Name = sched
					cfg.Scheduler.Flags = append([]string(nil), flags...)
				}
				out = append(out, &cfg)
			}
		}
	}
	return out
}

// RunGrid runs the grid of base. A failed experiment is recorded and the
// grid continues; only cancellation stops it early.
func (uc *GridUseCase) RunGrid(ctx context.Context, base *config.Config) (*GridSummary, error) {
	if err := base.Grid.Validate(); err != nil {
		return nil, err
	}
	if len(base.Grid.Schedulers) == 0 {
		return nil, fmt.Errorf("%w: grid has no schedulers", config.ErrInvalidConfiguration)
	}

	experiments := Experiments(base)
	summary := &GridSummary{}

	for i, cfg := range experiments {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		entry := newGridEntry(cfg)
		logger := uc.logger.With(slog.String("experiment", entry.Name), slog.Int("index", i+1), slog.Int("total", len(experiments)))

		if uc.exists(ctx, entry.Name, logger) {
			logger.Info("Grid: Skipping, results already exist")
			entry.Status = GridSkipped
			entry.Times = uc.storedTimes(ctx, entry.Name, entry.Benchmark)
			summary.Entries = append(summary.Entries, entry)
			continue
		}

		logger.Info("Grid: Running experiment", "scheduler", entry.Scheduler, "flags", entry.Flags)
		result, err := uc.runner.RunExperiment(ctx, cfg)
		if result != nil && result.Aggregate != nil {
			if b, ok := result.Aggregate.Benchmark(entry.Benchmark); ok {
				entry.Times = b.Times
			}
		}

		entry.Status = GridRan
		if err != nil {
			entry.Status = GridFailed
			entry.Error = err.Error()
			logger.Error("Grid: Experiment failed, continuing", "error", err)
		}
		summary.Entries = append(summary.Entries, entry)

		if errors.Is(err, context.Canceled) {
			return summary, err
		}
	}

	summary.Comparisons = compareToBaseline(summary.Entries)
	return summary, nil
}

func newGridEntry(cfg *config.Config) GridEntry {
	sched := execution.BaselineScheduler
	if cfg.Scheduler.Enabled() && cfg.Scheduler.Name != "" {
		sched = cfg.Scheduler.Name
	}
	bench := cfg.Benchmark.Benchmarks[0]
	return GridEntry{
		Name:      execution.ExperimentName(cfg.Benchmark.Benchmarks, cfg.Benchmark.Iterations, sched, cfg.Scheduler.Flags),
		Scheduler: sched,
		Flags:     cfg.Scheduler.Flags,
		Benchmark: bench,
	}
}

func (uc *GridUseCase) exists(ctx context.Context, name string, logger *slog.Logger) bool {
	if uc.index == nil {
		return false
	}
	ok, err := uc.index.Has(ctx, name)
	if err != nil {
		logger.Warn("Grid: result lookup failed, running anyway", "error", err)
		return false
	}
	return ok
}

func (uc *GridUseCase) storedTimes(ctx context.Context, name, benchmark string) []float64 {
	if uc.repo == nil {
		return nil
	}
	exp, err := uc.repo.FindByName(ctx, name)
	if err != nil {
		return nil
	}
	times, err := uc.repo.GetRunTimes(ctx, exp.ID)
	if err != nil {
		uc.logger.Debug("Grid: stored times unavailable", "experiment", name, "error", err)
		return nil
	}
	return times[benchmark]
}

// compareToBaseline compares every scheduler entry with the baseline
// entry of its benchmark.
func compareToBaseline(entries []GridEntry) []report.Comparison {
	baselines := make(map[string][]float64)
	for _, e := range entries {
		if e.Scheduler == execution.BaselineScheduler && len(e.Times) > 0 {
			baselines[e.Benchmark] = e.Times
		}
	}

	var out []report.Comparison
	for _, e := range entries {
		base, ok := baselines[e.Benchmark]
		if !ok || e.Scheduler == execution.BaselineScheduler {
			continue
		}
		out = append(out, report.Compare(e.Name, base, e.Times))
	}
	return out
}
