package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/lifecycle"
	"github.com/whhaicheng/SchedBench/internal/domain/report"
)

// TestPersistAll tests that every sink runs even when one fails.
func TestPersistAll(t *testing.T) {
	exp := execution.NewExperiment("id", "", nil, []string{"dotty"}, 1, testNow)
	agg := execution.NewAggregator(execution.AggregatorOptions{}).Freeze()

	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("boom")}
	c := &recordingSink{name: "c"}

	err := PersistAll(context.Background(), []ResultSink{a, b, c}, exp, agg, report.RawOutput{Benchmark: "tail"}, nil)
	require.Error(t, err)
	assert.EqualError(t, err, "b: boom")
	for _, s := range []*recordingSink{a, b, c} {
		assert.Equal(t, 1, s.calls, s.name)
		assert.Equal(t, "tail", s.raw.Benchmark)
	}

	assert.NoError(t, PersistAll(context.Background(), nil, exp, agg, report.RawOutput{}, nil))
}

// TestRepositorySink tests saving through the repository.
func TestRepositorySink(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryExperimentRepository()
	sink := NewRepositorySink(repo)
	assert.Equal(t, "repository", sink.Name())

	exp := execution.NewExperiment("id", "RoundRobinSched", nil, []string{"dotty"}, 1, testNow)
	a := execution.NewAggregator(execution.AggregatorOptions{})
	require.NoError(t, a.HandleEvent(lifecycle.Event{Kind: lifecycle.KindCompleted, Benchmark: "dotty", Elapsed: 12.5}))

	require.NoError(t, sink.Persist(ctx, exp, a.Freeze(), report.RawOutput{}))

	times, err := repo.GetRunTimes(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, []float64{12.5}, times["dotty"])
}
