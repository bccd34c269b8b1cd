// Package report provides the result document model and run summaries.
package report

import (
	"fmt"
	"math"

	"github.com/aclements/go-moremath/stats"
	"golang.org/x/perf/benchmath"

	"github.com/whhaicheng/SchedBench/internal/domain/execution"
)

// ReportFormat represents the output format for a result file.
type ReportFormat string

const (
	// FormatJSON writes the full result document.
	FormatJSON ReportFormat = "json"
	// FormatBenchfmt writes elapsed times in Go benchmark format.
	FormatBenchfmt ReportFormat = "benchfmt"
)

// String returns the string representation of the format.
func (f ReportFormat) String() string {
	return string(f)
}

// Validate checks if the format is valid.
func (f ReportFormat) Validate() error {
	switch f {
	case FormatJSON, FormatBenchfmt:
		return nil
	default:
		return fmt.Errorf("invalid report format: %s", f)
	}
}

// FileExtension returns the file extension for this format.
func (f ReportFormat) FileExtension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatBenchfmt:
		return ".bench"
	default:
		return ".txt"
	}
}

// ExperimentInfo identifies the experiment a document belongs to. It
// carries no IDs or timestamps so that the document is reproducible.
type ExperimentInfo struct {
	Name       string   `json:"name"`
	Scheduler  string   `json:"scheduler"`
	Flags      []string `json:"flags"`
	Benchmarks []string `json:"benchmarks"`
	Iterations int      `json:"iterations"`
}

// Document is the persisted result of one experiment.
type Document struct {
	Experiment ExperimentInfo `json:"experiment"`

	// Benchmarks is keyed by benchmark name; encoding/json sorts the keys.
	Benchmarks map[string]BenchmarkDoc `json:"benchmarks"`

	DroppedSamples int `json:"dropped_samples"`

	SchedulerOutput string `json:"scheduler_output,omitempty"`
	BenchmarkOutput string `json:"benchmark_output,omitempty"`
}

// BenchmarkDoc holds the elapsed times and run buckets of one benchmark.
type BenchmarkDoc struct {
	Times []float64 `json:"times"`
	Runs  []RunDoc  `json:"runs"`
}

// RunDoc is one run bucket, stored column-wise.
type RunDoc struct {
	Ordinal int                  `json:"ordinal"`
	Started bool                 `json:"started"`
	Sealed  bool                 `json:"sealed"`
	Steps   []int64              `json:"steps"`
	Fields  map[string][]float64 `json:"fields"`
}

// RawOutput is the retained tail of each process stream.
type RawOutput struct {
	Scheduler string
	Benchmark string
}

// BuildDocument converts a frozen aggregate into a result document.
func BuildDocument(exp *execution.Experiment, agg *execution.Aggregate, raw RawOutput) *Document {
	scheduler := exp.Scheduler
	if scheduler == "" {
		scheduler = execution.BaselineScheduler
	}

	doc := &Document{
		Experiment: ExperimentInfo{
			Name:       exp.Name,
			Scheduler:  scheduler,
			Flags:      nonNil(exp.Flags),
			Benchmarks: nonNil(exp.Benchmarks),
			Iterations: exp.Iterations,
		},
		Benchmarks:      make(map[string]BenchmarkDoc, len(agg.Benchmarks)),
		DroppedSamples:  agg.TotalDropped(),
		SchedulerOutput: raw.Scheduler,
		BenchmarkOutput: raw.Benchmark,
	}

	for _, b := range agg.Benchmarks {
		bd := BenchmarkDoc{
			Times: append([]float64{}, b.Times...),
			Runs:  make([]RunDoc, 0, len(b.Runs)),
		}
		for _, r := range b.Runs {
			rd := RunDoc{
				Ordinal: r.Ordinal,
				Started: r.Started,
				Sealed:  r.Sealed,
				Steps:   r.Steps(),
				Fields:  make(map[string][]float64),
			}
			for _, name := range r.FieldNames() {
				rd.Fields[name] = r.Series(name)
			}
			bd.Runs = append(bd.Runs, rd)
		}
		doc.Benchmarks[b.Name] = bd
	}

	return doc
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Summary describes the elapsed times of one benchmark.
type Summary struct {
	Benchmark string
	Count     int
	Mean      float64
	StdDev    float64
	Min       float64
	Max       float64

	// Lo and Hi bound the 95% confidence interval of the mean.
	Lo, Hi float64
	// Range is the interval half-width as a percentage of the mean.
	Range string
}

// Confidence is the confidence level of summary intervals.
const Confidence = 0.95

// Summarize returns one summary per benchmark, in aggregate order.
func Summarize(agg *execution.Aggregate) []Summary {
	out := make([]Summary, 0, len(agg.Benchmarks))
	for _, b := range agg.Benchmarks {
		out = append(out, SummarizeTimes(b.Name, b.Times))
	}
	return out
}

// SummarizeTimes computes the summary of a series of elapsed times.
// An empty series yields NaN statistics.
func SummarizeTimes(name string, times []float64) Summary {
	s := Summary{Benchmark: name, Count: len(times)}
	if len(times) == 0 {
		s.Mean, s.StdDev, s.Min, s.Max = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		s.Lo, s.Hi = math.NaN(), math.NaN()
		return s
	}
	s.Mean = stats.Mean(times)
	s.StdDev = stats.Sample{Xs: times}.StdDev()
	s.Min, s.Max = stats.Bounds(times)

	ci := benchmath.AssumeNormal.Summary(newSample(times), Confidence)
	s.Lo, s.Hi = ci.Lo, ci.Hi
	s.Range = ci.PctRangeString()
	return s
}

// String formats the summary as a single line.
func (s Summary) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("%s: no completed runs", s.Benchmark)
	}
	return fmt.Sprintf("%s: n=%d mean=%.1fms ±%s stddev=%.1fms min=%.1fms max=%.1fms",
		s.Benchmark, s.Count, s.Mean, s.Range, s.StdDev, s.Min, s.Max)
}
