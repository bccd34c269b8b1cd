package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/whhaicheng/SchedBench/internal/app/usecase"
	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	domainreport "github.com/whhaicheng/SchedBench/internal/domain/report"
	"github.com/whhaicheng/SchedBench/internal/infra/report"
	"github.com/whhaicheng/SchedBench/internal/infra/tool"
)

const chartWidth = 48

// printer writes command output, styled only when stdout is a terminal.
type printer struct {
	w     io.Writer
	color bool

	title   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	errorS  lipgloss.Style
	muted   lipgloss.Style
	box     lipgloss.Style

	charts *report.ChartGenerator
}

func newPrinter() *printer {
	fd := os.Stdout.Fd()
	return newPrinterTo(os.Stdout, isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
}

func newPrinterTo(w io.Writer, color bool) *printer {
	return &printer{
		w:       w,
		color:   color,
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C")),
		errorS:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5555")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		charts: report.NewChartGenerator(),
	}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) heading(text string) {
	p.printf("%s\n", p.render(p.title, text))
}

func (p *printer) boxed(text string) {
	if !p.color {
		p.printf("%s\n", text)
		return
	}
	p.printf("%s\n", p.box.Render(text))
}

func (p *printer) stateText(state execution.ExperimentState) string {
	switch state {
	case execution.StateCompleted:
		return p.render(p.success, string(state))
	case execution.StateFailed:
		return p.render(p.errorS, string(state))
	case execution.StateCancelled:
		return p.render(p.warning, string(state))
	}
	return string(state)
}

func (p *printer) experiment(exp *execution.Experiment) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", exp.Name)
	fmt.Fprintf(&b, "id:        %s\n", exp.ID)
	fmt.Fprintf(&b, "scheduler: %s %s\n", exp.Scheduler, strings.Join(exp.Flags, " "))
	fmt.Fprintf(&b, "state:     %s", p.stateText(exp.State))
	if exp.Duration != nil {
		fmt.Fprintf(&b, "\nduration:  %s", exp.Duration.Round(time.Millisecond))
	}
	if exp.ErrorMessage != "" {
		fmt.Fprintf(&b, "\nerror:     %s", p.render(p.errorS, exp.ErrorMessage))
	}
	p.boxed(b.String())
}

func (p *printer) summaries(summaries []domainreport.Summary) {
	for _, s := range summaries {
		p.printf("  %s\n", s)
	}
}

// result prints a finished experiment, with one bar per run and
// optionally a sparkline of field for every sealed run.
func (p *printer) result(res *usecase.ExperimentResult, field string) {
	p.experiment(res.Experiment)
	p.heading("Run times")
	p.summaries(res.Summaries())

	for i := range res.Aggregate.Benchmarks {
		b := &res.Aggregate.Benchmarks[i]
		if chart := p.charts.RunTimesChart(b, chartWidth); chart != "" {
			p.printf("\n%s\n", b.Name)
			p.printf("%s", chart)
		}
		if field == "" {
			continue
		}
		for _, run := range b.Sealed() {
			if line := p.charts.FieldSparkline(run, field, chartWidth, 6); line != "" {
				p.printf("\n%s", line)
			}
		}
	}

	p.printf("\n%s\n", p.render(p.muted, fmt.Sprintf(
		"samples=%d dropped=%d blocks=%d duplicates=%d started=%d completed=%d",
		res.Aggregate.SampleCount(), res.Aggregate.TotalDropped(),
		res.Parser.Blocks, res.Parser.Duplicates,
		res.Detector.Started, res.Detector.Completed)))
}

func (p *printer) record(rec *usecase.ExperimentRecord, chart bool) {
	p.experiment(rec.Experiment)
	p.heading("Run times")
	p.summaries(rec.Summaries())
	if !chart {
		return
	}
	for _, name := range rec.Benchmarks() {
		b := &execution.BenchmarkResult{Name: name, Times: rec.Times[name]}
		if c := p.charts.RunTimesChart(b, chartWidth); c != "" {
			p.printf("\n%s\n%s", name, c)
		}
	}
}

func (p *printer) comparisons(cmps []domainreport.Comparison) {
	if len(cmps) == 0 {
		return
	}
	p.heading("Against baseline")
	for _, c := range cmps {
		delta := c.Delta
		switch {
		case strings.HasPrefix(delta, "+"):
			delta = p.render(p.errorS, delta)
		case strings.HasPrefix(delta, "-"):
			delta = p.render(p.success, delta)
		}
		p.printf("  %-48s %s -> %s  %s\n",
			c.Benchmark, formatMean(c.Baseline.Mean), formatMean(c.Candidate.Mean), delta)
		if !math.IsNaN(c.P) {
			p.printf("  %s\n", p.render(p.muted, fmt.Sprintf("p=%.3f n=%d+%d", c.P, c.Baseline.Count, c.Candidate.Count)))
		}
	}
}

func (p *printer) grid(summary *usecase.GridSummary) {
	p.heading("Grid")
	for _, e := range summary.Entries {
		status := string(e.Status)
		switch e.Status {
		case usecase.GridRan:
			status = p.render(p.success, status)
		case usecase.GridSkipped:
			status = p.render(p.muted, status)
		case usecase.GridFailed:
			status = p.render(p.errorS, status)
		}
		p.printf("  %-8s %s\n", status, e.Name)
		if e.Error != "" {
			p.printf("           %s\n", p.render(p.muted, e.Error))
		}
	}
	p.printf("\n%d ran, %d skipped, %d failed\n",
		summary.Count(usecase.GridRan), summary.Count(usecase.GridSkipped), summary.Count(usecase.GridFailed))

	var labels []string
	var means []float64
	for _, e := range summary.Entries {
		if len(e.Times) == 0 {
			continue
		}
		labels = append(labels, e.Scheduler+" "+strings.Join(e.Flags, " ")+" "+e.Benchmark)
		means = append(means, domainreport.SummarizeTimes(e.Benchmark, e.Times).Mean)
	}
	if len(labels) > 0 {
		p.printf("\n%s", p.charts.BarChart(labels, means, "ms", chartWidth))
	}
	p.comparisons(summary.Comparisons)
}

func (p *printer) history(exps []*execution.Experiment) {
	if len(exps) == 0 {
		p.printf("No experiments recorded.\n")
		return
	}
	for _, e := range exps {
		p.printf("%s  %-10s %s  %s\n",
			p.render(p.muted, shortID(e.ID)), p.stateText(e.State),
			e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Name)
	}
}

func (p *printer) tools(infos []*tool.ToolInfo) {
	p.heading("Required tools")
	for _, info := range infos {
		mark := p.render(p.success, "found  ")
		detail := info.Path
		if !info.Found {
			mark = p.render(p.errorS, "missing")
			detail = info.Error
		}
		if info.Version != "" {
			detail += " (" + info.Version + ")"
		}
		p.printf("  %s %-9s %-28s %s\n", mark, info.Kind, info.Name, p.render(p.muted, detail))
	}
}

func formatMean(v float64) string {
	if math.IsNaN(v) {
		return "?"
	}
	return fmt.Sprintf("%.1fms", v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
