package report

import (
	"bytes"
	"io"
	"strings"
	"unicode"

	"golang.org/x/perf/benchfmt"

	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/report"
)

// ElapsedUnit is the unit of every benchfmt value.
const ElapsedUnit = "ms/op"

// BenchfmtWriter writes elapsed times in the Go benchmark format, one
// result line per completed run, so that benchstat can compare
// schedulers.
type BenchfmtWriter struct{}

// NewBenchfmtWriter creates a new benchfmt writer.
func NewBenchfmtWriter() *BenchfmtWriter {
	return &BenchfmtWriter{}
}

// Format returns the format this writer produces.
func (w *BenchfmtWriter) Format() report.ReportFormat {
	return report.FormatBenchfmt
}

// Encode writes the file configuration and results of agg to out.
func (w *BenchfmtWriter) Encode(out io.Writer, exp *execution.Experiment, agg *execution.Aggregate) error {
	bw := benchfmt.NewWriter(out)
	config := w.fileConfig(exp)

	for _, b := range agg.Benchmarks {
		name := benchmarkName(b.Name)
		for _, elapsed := range b.Times {
			res := &benchfmt.Result{
				Config: config,
				Name:   benchfmt.Name(name),
				Iters:  1,
				Values: []benchfmt.Value{{Value: elapsed, Unit: ElapsedUnit}},
			}
			if err := bw.Write(res); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteFile encodes the results and replaces path atomically.
func (w *BenchfmtWriter) WriteFile(path string, exp *execution.Experiment, agg *execution.Aggregate) error {
	var buf bytes.Buffer
	if err := w.Encode(&buf, exp, agg); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

func (w *BenchfmtWriter) fileConfig(exp *execution.Experiment) []benchfmt.Config {
	scheduler := exp.Scheduler
	if scheduler == "" {
		scheduler = execution.BaselineScheduler
	}
	flags := strings.Join(exp.Flags, " ")
	if flags == "" {
		flags = "none"
	}
	return []benchfmt.Config{
		{Key: "experiment", Value: []byte(exp.Name), File: true},
		{Key: "scheduler", Value: []byte(scheduler), File: true},
		{Key: "flags", Value: []byte(flags), File: true},
	}
}

// benchmarkName turns a driver benchmark name into a single benchfmt
// name field: whitespace becomes '_' and the first letter is upper case.
func benchmarkName(name string) string {
	out := []rune(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name))
	if len(out) > 0 {
		out[0] = unicode.ToUpper(out[0])
	}
	return string(out)
}
