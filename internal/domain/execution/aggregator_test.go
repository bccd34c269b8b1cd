package execution

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whhaicheng/SchedBench/internal/domain/lifecycle"
	"github.com/whhaicheng/SchedBench/internal/domain/stats"
)

func quietAggregator(opts AggregatorOptions) *Aggregator {
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAggregator(opts)
}

func sample(step int64, fields map[string]float64) stats.Sample {
	return stats.Sample{Step: step, Fields: fields}
}

func started(name string) lifecycle.Event {
	return lifecycle.Event{Kind: lifecycle.KindStarted, Benchmark: name}
}

func completed(name string, elapsed float64) lifecycle.Event {
	return lifecycle.Event{Kind: lifecycle.KindCompleted, Benchmark: name, Elapsed: elapsed}
}

// TestAggregator_StartedCompleted tests one run bracketed by markers.
func TestAggregator_StartedCompleted(t *testing.T) {
	a := quietAggregator(AggregatorOptions{})

	require.NoError(t, a.HandleEvent(started("X")))
	assert.Equal(t, RunActive, a.State("X"))
	assert.True(t, a.HandleSample(sample(1, map[string]float64{"total_wait_time": 100, "total_enqueues": 4})))
	require.NoError(t, a.HandleEvent(completed("X", 12.5)))
	assert.Equal(t, NoActiveRun, a.State("X"))

	agg := a.Freeze()
	x, ok := agg.Benchmark("X")
	require.True(t, ok)

	assert.Equal(t, []float64{12.5}, x.Times)
	require.Len(t, x.Runs, 2)
	assert.True(t, x.Runs[0].Started)
	assert.True(t, x.Runs[0].Sealed)
	assert.Equal(t, []int64{1}, x.Runs[0].Steps())
	assert.Equal(t, map[string]float64{"total_wait_time": 100, "total_enqueues": 4}, x.Runs[0].Samples[0].Fields)
	assert.False(t, x.Runs[1].Sealed)
	assert.Empty(t, x.Runs[1].Samples)
}

// TestAggregator_CompletedWithoutStarted tests tolerance of a missing started marker.
func TestAggregator_CompletedWithoutStarted(t *testing.T) {
	a := quietAggregator(AggregatorOptions{DefaultBenchmark: "X"})

	assert.True(t, a.HandleSample(sample(1, map[string]float64{"f": 1})))
	require.NoError(t, a.HandleEvent(completed("X", 7.0)))

	x, ok := a.Freeze().Benchmark("X")
	require.True(t, ok)
	assert.Equal(t, []float64{7.0}, x.Times)
	require.Len(t, x.Runs, 2)
	assert.True(t, x.Runs[0].Sealed)
	assert.False(t, x.Runs[0].Started)
	assert.Equal(t, []int64{1}, x.Runs[0].Steps())
}

// TestAggregator_BucketCountInvariant tests buckets == completed + 1.
func TestAggregator_BucketCountInvariant(t *testing.T) {
	for _, k := range []int{0, 1, 2, 5} {
		a := quietAggregator(AggregatorOptions{})
		require.NoError(t, a.HandleEvent(started("B")))
		for i := 0; i < k; i++ {
			a.HandleSample(sample(int64(i+1), map[string]float64{"f": float64(i)}))
			require.NoError(t, a.HandleEvent(completed("B", float64(i)+0.5)))
			require.NoError(t, a.HandleEvent(started("B")))
		}

		b, ok := a.Freeze().Benchmark("B")
		require.True(t, ok)
		assert.Len(t, b.Runs, k+1, "k=%d", k)
		assert.Len(t, b.Sealed(), k, "k=%d", k)
		assert.Len(t, b.Times, k, "k=%d", k)
	}
}

// TestAggregator_NoContextDrop tests samples before any event are dropped.
func TestAggregator_NoContextDrop(t *testing.T) {
	a := quietAggregator(AggregatorOptions{})

	assert.False(t, a.HandleSample(sample(1, nil)))
	assert.Equal(t, 1, a.Dropped(DropNoContext))

	agg := a.Freeze()
	assert.Empty(t, agg.Benchmarks)
	assert.Equal(t, 1, agg.TotalDropped())
}

// TestAggregator_DuplicateStep tests the per-bucket step guard.
func TestAggregator_DuplicateStep(t *testing.T) {
	a := quietAggregator(AggregatorOptions{})
	require.NoError(t, a.HandleEvent(started("X")))

	assert.Equal(t, "X", a.Current())
	assert.True(t, a.HandleSample(sample(4, nil)))
	assert.False(t, a.HandleSample(sample(4, nil)))
	assert.True(t, a.HandleSample(sample(5, nil)))
	// Not only consecutive repeats: any step already in the bucket.
	assert.False(t, a.HandleSample(sample(4, nil)))
	assert.Equal(t, 2, a.Dropped(DropDuplicate))

	require.NoError(t, a.HandleEvent(completed("X", 1.0)))
	// The same step may open the next bucket.
	assert.True(t, a.HandleSample(sample(4, nil)))
}

// TestAggregator_StraySamplesLandInTrailingBucket tests samples between runs.
func TestAggregator_StraySamplesLandInTrailingBucket(t *testing.T) {
	a := quietAggregator(AggregatorOptions{})

	require.NoError(t, a.HandleEvent(started("X")))
	require.NoError(t, a.HandleEvent(completed("X", 1.0)))
	assert.True(t, a.HandleSample(sample(9, nil)))
	require.NoError(t, a.HandleEvent(started("X")))
	assert.True(t, a.HandleSample(sample(10, nil)))

	x, _ := a.Freeze().Benchmark("X")
	require.Len(t, x.Runs, 2)
	assert.Equal(t, []int64{9, 10}, x.Runs[1].Steps())
	assert.True(t, x.Runs[1].Started)
}

// TestAggregator_MultipleBenchmarks tests routing by current context.
func TestAggregator_MultipleBenchmarks(t *testing.T) {
	a := quietAggregator(AggregatorOptions{})

	require.NoError(t, a.HandleEvent(started("reactors")))
	a.HandleSample(sample(1, nil))
	require.NoError(t, a.HandleEvent(completed("reactors", 10.0)))
	require.NoError(t, a.HandleEvent(started("dotty")))
	a.HandleSample(sample(2, nil))
	a.HandleSample(sample(3, nil))
	require.NoError(t, a.HandleEvent(completed("dotty", 20.0)))

	agg := a.Freeze()
	require.Len(t, agg.Benchmarks, 2)
	assert.Equal(t, "reactors", agg.Benchmarks[0].Name)
	assert.Equal(t, "dotty", agg.Benchmarks[1].Name)
	assert.Equal(t, []int64{2, 3}, agg.Benchmarks[1].Runs[0].Steps())
	assert.Equal(t, 3, agg.SampleCount())
}

// TestAggregator_ImplicitStart tests drivers without started markers.
func TestAggregator_ImplicitStart(t *testing.T) {
	a := quietAggregator(AggregatorOptions{DefaultBenchmark: "X", ImplicitStart: true})

	a.HandleSample(sample(1, nil))
	assert.Equal(t, RunActive, a.State("X"))
	require.NoError(t, a.HandleEvent(completed("X", 3.0)))
	assert.Equal(t, NoActiveRun, a.State("X"))
	a.HandleSample(sample(2, nil))
	assert.Equal(t, RunActive, a.State("X"))
}

// TestAggregator_Freeze tests immutability after freezing.
func TestAggregator_Freeze(t *testing.T) {
	a := quietAggregator(AggregatorOptions{})
	require.NoError(t, a.HandleEvent(started("X")))
	a.HandleSample(sample(1, map[string]float64{"f": 1}))

	first := a.Freeze()
	assert.Same(t, first, a.Freeze())

	assert.ErrorIs(t, a.HandleEvent(completed("X", 1.0)), ErrAggregateFrozen)
	assert.False(t, a.HandleSample(sample(2, nil)))

	x, _ := first.Benchmark("X")
	assert.Equal(t, []int64{1}, x.Runs[0].Steps())
	assert.Empty(t, x.Times)
}

// TestRunBucket_Series tests field sequences skip absent values.
func TestRunBucket_Series(t *testing.T) {
	r := RunBucket{Samples: []stats.Sample{
		sample(1, map[string]float64{"a": 1, "b": 10}),
		sample(2, map[string]float64{"b": 20}),
		sample(3, map[string]float64{"a": 3}),
	}}

	assert.Equal(t, []float64{1, 3}, r.Series("a"))
	assert.Equal(t, []float64{10, 20}, r.Series("b"))
	assert.Nil(t, r.Series("c"))
	assert.Equal(t, []string{"a", "b"}, r.FieldNames())
}
