package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/report"
)

// PersistAll runs every sink concurrently on the frozen result. Every
// sink runs to completion; the first error is returned.
func PersistAll(ctx context.Context, sinks []ResultSink, exp *execution.Experiment, agg *execution.Aggregate, raw report.RawOutput, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var g errgroup.Group
	for _, sink := range sinks {
		g.Go(func() error {
			start := time.Now()
			if err := sink.Persist(ctx, exp, agg, raw); err != nil {
				logger.Error("Persist: sink failed", "sink", sink.Name(), "error", err)
				return fmt.Errorf("%s: %w", sink.Name(), err)
			}
			logger.Debug("Persist: sink done", "sink", sink.Name(), "elapsed", time.Since(start))
			return nil
		})
	}
	return g.Wait()
}

// RepositorySink stores the experiment row and its results.
type RepositorySink struct {
	repo ExperimentRepository
}

// NewRepositorySink creates a sink backed by repo.
func NewRepositorySink(repo ExperimentRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

// Name identifies the sink in logs.
func (s *RepositorySink) Name() string {
	return "repository"
}

// Persist saves the experiment, then replaces its results.
func (s *RepositorySink) Persist(ctx context.Context, exp *execution.Experiment, agg *execution.Aggregate, _ report.RawOutput) error {
	if err := s.repo.Save(ctx, exp); err != nil {
		return fmt.Errorf("save experiment: %w", err)
	}
	if err := s.repo.SaveResults(ctx, exp.ID, agg); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	return nil
}
