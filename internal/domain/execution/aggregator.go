package execution

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/whhaicheng/SchedBench/internal/domain/lifecycle"
	"github.com/whhaicheng/SchedBench/internal/domain/stats"
)

var (
	// ErrAggregateFrozen is returned when input arrives after Freeze.
	ErrAggregateFrozen = errors.New("aggregate is frozen")
)

// DropReason classifies a sample the aggregator did not keep.
type DropReason string

const (
	DropNoContext DropReason = "no_context"
	DropDuplicate DropReason = "duplicate_step"
	DropFrozen    DropReason = "frozen"
)

// AggregatorOptions configures routing of samples that have no explicit run.
type AggregatorOptions struct {
	// DefaultBenchmark receives samples that arrive before any lifecycle
	// event. Leave empty to drop them.
	DefaultBenchmark string

	// ImplicitStart opens a run on the first sample seen while a benchmark
	// has no active run. Use it for drivers that never print started markers.
	ImplicitStart bool

	Logger *slog.Logger
}

// bucket is the mutable form of RunBucket.
type bucket struct {
	ordinal int
	started bool
	sealed  bool
	samples []stats.Sample
	steps   map[int64]struct{}
}

type benchmarkRuns struct {
	name    string
	state   RunState
	times   []float64
	buckets []*bucket
}

func (b *benchmarkRuns) open() *bucket {
	return b.buckets[len(b.buckets)-1]
}

// Aggregator buckets samples into the run that was active when they were
// observed. It is driven from a single goroutine and needs no locking.
type Aggregator struct {
	opts    AggregatorOptions
	logger  *slog.Logger
	order   []string
	runs    map[string]*benchmarkRuns
	current string
	frozen  *Aggregate
	dropped map[DropReason]int
}

// NewAggregator creates an empty aggregator.
func NewAggregator(opts AggregatorOptions) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		opts:    opts,
		logger:  logger.With(slog.String("component", "aggregator")),
		runs:    make(map[string]*benchmarkRuns),
		dropped: make(map[DropReason]int),
	}
}

// benchmark returns the runs of name, creating the trailing bucket on first use.
func (a *Aggregator) benchmark(name string) *benchmarkRuns {
	if b, ok := a.runs[name]; ok {
		return b
	}
	b := &benchmarkRuns{
		name:    name,
		state:   NoActiveRun,
		buckets: []*bucket{newBucket(0)},
	}
	a.runs[name] = b
	a.order = append(a.order, name)
	return b
}

func newBucket(ordinal int) *bucket {
	return &bucket{ordinal: ordinal, steps: make(map[int64]struct{})}
}

// HandleEvent applies a lifecycle event.
func (a *Aggregator) HandleEvent(ev lifecycle.Event) error {
	if a.frozen != nil {
		return ErrAggregateFrozen
	}

	b := a.benchmark(ev.Benchmark)
	a.current = ev.Benchmark

	switch ev.Kind {
	case lifecycle.KindStarted:
		if !b.state.CanTransitionTo(RunActive) {
			a.logger.Warn("Aggregator: started while run active, continuing bucket",
				"benchmark", b.name, "ordinal", b.open().ordinal)
		}
		b.state = RunActive
		b.open().started = true

	case lifecycle.KindCompleted:
		if b.state == NoActiveRun {
			a.logger.Debug("Aggregator: completed without started",
				"benchmark", b.name, "ordinal", b.open().ordinal)
		}
		b.times = append(b.times, ev.Elapsed)
		closed := b.open()
		closed.sealed = true
		b.buckets = append(b.buckets, newBucket(closed.ordinal+1))
		b.state = NoActiveRun
		a.logger.Debug("Aggregator: run sealed",
			"benchmark", b.name, "ordinal", closed.ordinal,
			"samples", len(closed.samples), "elapsed", ev.Elapsed)
	}
	return nil
}

// HandleSample routes a sample to the open bucket of the current benchmark.
// It reports whether the sample was kept.
func (a *Aggregator) HandleSample(s stats.Sample) bool {
	if a.frozen != nil {
		a.drop(DropFrozen, s)
		return false
	}

	if a.current == "" {
		if a.opts.DefaultBenchmark == "" {
			a.drop(DropNoContext, s)
			return false
		}
		a.current = a.opts.DefaultBenchmark
	}

	b := a.benchmark(a.current)
	if b.state == NoActiveRun && a.opts.ImplicitStart {
		b.state = RunActive
	}

	bk := b.open()
	if _, dup := bk.steps[s.Step]; dup {
		a.drop(DropDuplicate, s)
		return false
	}
	bk.steps[s.Step] = struct{}{}
	bk.samples = append(bk.samples, s)
	return true
}

func (a *Aggregator) drop(reason DropReason, s stats.Sample) {
	a.dropped[reason]++
	a.logger.Debug("Aggregator: sample dropped", "reason", reason, "step", s.Step)
}

// Current returns the benchmark samples are currently routed to.
func (a *Aggregator) Current() string {
	return a.current
}

// State returns the run state of a benchmark.
func (a *Aggregator) State(name string) RunState {
	if b, ok := a.runs[name]; ok {
		return b.state
	}
	return NoActiveRun
}

// Dropped returns the number of samples dropped for a reason.
func (a *Aggregator) Dropped(reason DropReason) int {
	return a.dropped[reason]
}

// Freeze stops accepting input and returns the immutable aggregate.
// Later calls return the same aggregate.
func (a *Aggregator) Freeze() *Aggregate {
	if a.frozen != nil {
		return a.frozen
	}

	agg := &Aggregate{Dropped: make(map[DropReason]int, len(a.dropped))}
	for reason, n := range a.dropped {
		agg.Dropped[reason] = n
	}

	for _, name := range a.order {
		b := a.runs[name]
		res := BenchmarkResult{
			Name:  name,
			Times: append([]float64(nil), b.times...),
			Runs:  make([]RunBucket, 0, len(b.buckets)),
		}
		for _, bk := range b.buckets {
			res.Runs = append(res.Runs, RunBucket{
				Ordinal: bk.ordinal,
				Started: bk.started,
				Sealed:  bk.sealed,
				Samples: cloneSamples(bk.samples),
			})
		}
		agg.Benchmarks = append(agg.Benchmarks, res)
	}

	a.frozen = agg
	return agg
}

func cloneSamples(in []stats.Sample) []stats.Sample {
	out := make([]stats.Sample, len(in))
	for i, s := range in {
		fields := make(map[string]float64, len(s.Fields))
		for k, v := range s.Fields {
			fields[k] = v
		}
		out[i] = stats.Sample{Step: s.Step, Fields: fields, ObservedAt: s.ObservedAt}
	}
	return out
}

// Aggregate is the frozen, persistable result of one experiment.
type Aggregate struct {
	Benchmarks []BenchmarkResult // first-seen order
	Dropped    map[DropReason]int
}

// BenchmarkResult holds the runs of one benchmark name.
type BenchmarkResult struct {
	Name  string
	Times []float64   // elapsed time of each completed run, in order
	Runs  []RunBucket // len(Times)+1; the last one is the trailing bucket
}

// RunBucket is the ordered samples of one run attempt.
type RunBucket struct {
	Ordinal int
	Started bool // a started marker opened this run
	Sealed  bool // a completed marker closed this run
	Samples []stats.Sample
}

// Benchmark returns the result for name.
func (a *Aggregate) Benchmark(name string) (*BenchmarkResult, bool) {
	for i := range a.Benchmarks {
		if a.Benchmarks[i].Name == name {
			return &a.Benchmarks[i], true
		}
	}
	return nil, false
}

// TotalDropped returns the number of samples dropped for any reason.
func (a *Aggregate) TotalDropped() int {
	total := 0
	for _, n := range a.Dropped {
		total += n
	}
	return total
}

// SampleCount returns the number of samples kept across all buckets.
func (a *Aggregate) SampleCount() int {
	total := 0
	for _, b := range a.Benchmarks {
		for _, r := range b.Runs {
			total += len(r.Samples)
		}
	}
	return total
}

// Sealed returns the runs closed by a completed marker.
func (b *BenchmarkResult) Sealed() []RunBucket {
	var out []RunBucket
	for _, r := range b.Runs {
		if r.Sealed {
			out = append(out, r)
		}
	}
	return out
}

// Steps returns the step of every sample, in order.
func (r RunBucket) Steps() []int64 {
	steps := make([]int64, len(r.Samples))
	for i, s := range r.Samples {
		steps[i] = s.Step
	}
	return steps
}

// FieldNames returns every field present in the bucket, sorted.
func (r RunBucket) FieldNames() []string {
	seen := make(map[string]struct{})
	for _, s := range r.Samples {
		for k := range s.Fields {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Series returns the values of one field in sample order. Samples that
// lack the field leave no entry.
func (r RunBucket) Series(field string) []float64 {
	var out []float64
	for _, s := range r.Samples {
		if v, ok := s.Value(field); ok {
			out = append(out, v)
		}
	}
	return out
}
