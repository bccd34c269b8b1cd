package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/report"
)

// ExperimentRecord is a stored experiment with its elapsed times.
type ExperimentRecord struct {
	Experiment *execution.Experiment
	Times      map[string][]float64
}

// Benchmarks returns the benchmark names with stored times, sorted.
func (r *ExperimentRecord) Benchmarks() []string {
	names := make([]string, 0, len(r.Times))
	for name := range r.Times {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summaries returns one elapsed-time summary per benchmark.
func (r *ExperimentRecord) Summaries() []report.Summary {
	out := make([]report.Summary, 0, len(r.Times))
	for _, name := range r.Benchmarks() {
		out = append(out, report.SummarizeTimes(name, r.Times[name]))
	}
	return out
}

// HistoryUseCase answers questions about past experiments.
type HistoryUseCase struct {
	repo ExperimentRepository
}

// NewHistoryUseCase creates a new history use case.
func NewHistoryUseCase(repo ExperimentRepository) *HistoryUseCase {
	return &HistoryUseCase{repo: repo}
}

// List lists experiments, newest first unless opts says otherwise.
func (uc *HistoryUseCase) List(ctx context.Context, opts FindOptions) ([]*execution.Experiment, error) {
	exps, err := uc.repo.FindAll(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return exps, nil
}

// Get loads an experiment by ID, or else by name (the most recent one).
func (uc *HistoryUseCase) Get(ctx context.Context, ref string) (*ExperimentRecord, error) {
	exp, err := uc.repo.FindByID(ctx, ref)
	if errors.Is(err, ErrExperimentNotFound) {
		exp, err = uc.repo.FindByName(ctx, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("find experiment %s: %w", ref, err)
	}

	times, err := uc.repo.GetRunTimes(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("load run times: %w", err)
	}
	return &ExperimentRecord{Experiment: exp, Times: times}, nil
}

// Compare compares the elapsed times of every benchmark the two
// experiments share.
func (uc *HistoryUseCase) Compare(ctx context.Context, baselineRef, candidateRef string) ([]report.Comparison, error) {
	baseline, err := uc.Get(ctx, baselineRef)
	if err != nil {
		return nil, err
	}
	candidate, err := uc.Get(ctx, candidateRef)
	if err != nil {
		return nil, err
	}

	var out []report.Comparison
	for _, name := range baseline.Benchmarks() {
		times, ok := candidate.Times[name]
		if !ok {
			continue
		}
		out = append(out, report.Compare(name, baseline.Times[name], times))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s and %s share no benchmark", baselineRef, candidateRef)
	}
	return out, nil
}

// Delete deletes an experiment by ID.
func (uc *HistoryUseCase) Delete(ctx context.Context, id string) error {
	if err := uc.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	return nil
}
