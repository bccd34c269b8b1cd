package usecase

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/whhaicheng/SchedBench/internal/domain/execution"
)

// MemoryExperimentRepository keeps experiments in memory. It backs the
// "none" storage driver, so a grid run can still compare against results
// produced earlier in the same process.
type MemoryExperimentRepository struct {
	mu          sync.RWMutex
	experiments map[string]*execution.Experiment
	times       map[string]map[string][]float64
}

// NewMemoryExperimentRepository creates a new in-memory experiment repository.
func NewMemoryExperimentRepository() *MemoryExperimentRepository {
	return &MemoryExperimentRepository{
		experiments: make(map[string]*execution.Experiment),
		times:       make(map[string]map[string][]float64),
	}
}

// Save saves a copy of the experiment.
func (r *MemoryExperimentRepository) Save(ctx context.Context, exp *execution.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *exp
	r.experiments[exp.ID] = &cp
	slog.Debug("MemoryExperimentRepository: Saved experiment", "id", exp.ID, "state", exp.State)
	return nil
}

// SaveResults replaces the run times of an experiment. Samples are not kept.
func (r *MemoryExperimentRepository) SaveResults(ctx context.Context, experimentID string, agg *execution.Aggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.experiments[experimentID]; !ok {
		return ErrExperimentNotFound
	}
	times := make(map[string][]float64, len(agg.Benchmarks))
	for _, b := range agg.Benchmarks {
		times[b.Name] = append([]float64(nil), b.Times...)
	}
	r.times[experimentID] = times
	return nil
}

// FindByID finds an experiment by its ID.
func (r *MemoryExperimentRepository) FindByID(ctx context.Context, id string) (*execution.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exp, ok := r.experiments[id]
	if !ok {
		return nil, ErrExperimentNotFound
	}
	cp := *exp
	return &cp, nil
}

// FindByName finds the most recent experiment with the given name.
func (r *MemoryExperimentRepository) FindByName(ctx context.Context, name string) (*execution.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *execution.Experiment
	for _, exp := range r.experiments {
		if exp.Name == name && (found == nil || exp.CreatedAt.After(found.CreatedAt)) {
			found = exp
		}
	}
	if found == nil {
		return nil, ErrExperimentNotFound
	}
	cp := *found
	return &cp, nil
}

// FindAll finds experiments with optional filtering and pagination,
// ordered by creation time.
func (r *MemoryExperimentRepository) FindAll(ctx context.Context, opts FindOptions) ([]*execution.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var exps []*execution.Experiment
	for _, exp := range r.experiments {
		if opts.StateFilter != nil && exp.State != *opts.StateFilter {
			continue
		}
		if opts.Scheduler != "" && exp.Scheduler != opts.Scheduler {
			continue
		}
		cp := *exp
		exps = append(exps, &cp)
	}

	asc := opts.SortOrder == "ASC"
	sort.Slice(exps, func(i, j int) bool {
		if asc {
			return exps[i].CreatedAt.Before(exps[j].CreatedAt)
		}
		return exps[i].CreatedAt.After(exps[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(exps) {
			return nil, nil
		}
		exps = exps[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(exps) {
		exps = exps[:opts.Limit]
	}
	return exps, nil
}

// ExistsByName reports whether a completed experiment has this name.
func (r *MemoryExperimentRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, exp := range r.experiments {
		if exp.Name == name && exp.State == execution.StateCompleted {
			return true, nil
		}
	}
	return false, nil
}

// Has implements ResultIndex.
func (r *MemoryExperimentRepository) Has(ctx context.Context, name string) (bool, error) {
	return r.ExistsByName(ctx, name)
}

// GetRunTimes returns the elapsed times of every benchmark, in run order.
func (r *MemoryExperimentRepository) GetRunTimes(ctx context.Context, experimentID string) (map[string][]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]float64, len(r.times[experimentID]))
	for name, times := range r.times[experimentID] {
		out[name] = append([]float64(nil), times...)
	}
	return out, nil
}

// Delete deletes an experiment and its results.
func (r *MemoryExperimentRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.experiments[id]; !ok {
		return ErrExperimentNotFound
	}
	delete(r.experiments, id)
	delete(r.times, id)
	return nil
}
