// Package report writes experiment results to files and renders text
// charts of them.
package report

import (
	"fmt"
	"strings"

	"github.com/aclements/go-moremath/stats"

	"github.com/whhaicheng/SchedBench/internal/domain/execution"
)

// ChartGenerator renders text charts of experiment results.
type ChartGenerator struct{}

// NewChartGenerator creates a new chart generator.
func NewChartGenerator() *ChartGenerator {
	return &ChartGenerator{}
}

// RunTimesChart draws one bar per completed run of b.
func (g *ChartGenerator) RunTimesChart(b *execution.BenchmarkResult, width int) string {
	if b == nil || len(b.Times) == 0 {
		return ""
	}
	labels := make([]string, len(b.Times))
	for i := range b.Times {
		labels[i] = fmt.Sprintf("run %d", i+1)
	}
	return g.BarChart(labels, b.Times, "ms", width)
}

// FieldSparkline plots one field of a run bucket against its steps.
func (g *ChartGenerator) FieldSparkline(r execution.RunBucket, field string, width, height int) string {
	values := r.Series(field)
	if len(values) == 0 {
		return ""
	}
	label := fmt.Sprintf("%s (run %d, %d samples)", field, r.Ordinal+1, len(values))
	return g.sparkline(values, width, height, label)
}

func (g *ChartGenerator) sparkline(values []float64, width, height int, label string) string {
	if width < 1 || height < 2 {
		return ""
	}
	min, max := stats.Bounds(values)
	span := max - min
	if span == 0 {
		span = 1
	}

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}
	for x, v := range downsample(values, width) {
		y := height - 1 - int((v-min)/span*float64(height-1))
		grid[clamp(y, 0, height-1)][x] = '█'
	}

	var sb strings.Builder
	sb.WriteString(label)
	sb.WriteByte('\n')
	for i, row := range grid {
		axis := max - float64(i)/float64(height-1)*(max-min)
		fmt.Fprintf(&sb, "%12.2f │%s\n", axis, string(row))
	}
	return sb.String()
}

// BarChart draws a horizontal bar per label, scaled to the largest value.
func (g *ChartGenerator) BarChart(labels []string, values []float64, unit string, width int) string {
	if len(labels) != len(values) || len(labels) == 0 {
		return ""
	}

	_, max := stats.Bounds(values)
	if max <= 0 {
		max = 1
	}
	labelWidth := 0
	for _, l := range labels {
		labelWidth = maxInt(labelWidth, len(l))
	}
	barWidth := maxInt(width-labelWidth-16, 10)

	var sb strings.Builder
	for i, label := range labels {
		n := clamp(int(values[i]/max*float64(barWidth)), 0, barWidth)
		fmt.Fprintf(&sb, "%*s │%-*s %.2f %s\n", labelWidth, label, barWidth, strings.Repeat("█", n), values[i], unit)
	}
	return sb.String()
}

// downsample picks width evenly spaced points from values.
func downsample(values []float64, width int) []float64 {
	if len(values) <= width {
		return values
	}
	if width == 1 {
		return values[:1]
	}
	step := float64(len(values)-1) / float64(width-1)
	out := make([]float64, width)
	for i := range out {
		out[i] = values[clamp(int(float64(i)*step), 0, len(values)-1)]
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
