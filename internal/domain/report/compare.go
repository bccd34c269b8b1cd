package report

import (
	"fmt"
	"math"

	"golang.org/x/perf/benchmath"
)

// Comparison is the difference between a baseline and a candidate
// series of elapsed times for one benchmark.
type Comparison struct {
	Benchmark string
	Baseline  Summary
	Candidate Summary

	// P is the p-value of Welch's t-test; Delta is the change in the mean,
	// or "~" when the difference is not significant.
	P     float64
	Delta string
}

// Compare tests whether candidate differs from baseline. Neither input is
// modified.
func Compare(benchmark string, baseline, candidate []float64) Comparison {
	c := Comparison{
		Benchmark: benchmark,
		Baseline:  SummarizeTimes(benchmark, baseline),
		Candidate: SummarizeTimes(benchmark, candidate),
		P:         math.NaN(),
		Delta:     "?",
	}
	if len(baseline) == 0 || len(candidate) == 0 {
		return c
	}

	cmp := benchmath.AssumeNormal.Compare(newSample(baseline), newSample(candidate))
	cmp.Alpha = benchmath.DefaultThresholds.CompareAlpha
	c.P = cmp.P
	c.Delta = cmp.FormatDelta(c.Baseline.Mean, c.Candidate.Mean)
	return c
}

// String formats the comparison as a single line.
func (c Comparison) String() string {
	if math.IsNaN(c.P) {
		return fmt.Sprintf("%s: not comparable (n=%d+%d)", c.Benchmark, c.Baseline.Count, c.Candidate.Count)
	}
	return fmt.Sprintf("%s: %.1fms -> %.1fms %s (p=%.3f n=%d+%d)",
		c.Benchmark, c.Baseline.Mean, c.Candidate.Mean, c.Delta, c.P, c.Baseline.Count, c.Candidate.Count)
}

// newSample copies xs because benchmath sorts samples in place.
func newSample(xs []float64) *benchmath.Sample {
	return benchmath.NewSample(append([]float64(nil), xs...), &benchmath.DefaultThresholds)
}
