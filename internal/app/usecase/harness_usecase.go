package usecase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/lifecycle"
	"github.com/whhaicheng/SchedBench/internal/domain/report"
	"github.com/whhaicheng/SchedBench/internal/domain/stats"
	"github.com/whhaicheng/SchedBench/internal/infra/adapter"
	"github.com/whhaicheng/SchedBench/internal/infra/linesource"
	"github.com/whhaicheng/SchedBench/internal/infra/process"
	"github.com/whhaicheng/SchedBench/internal/infra/stream"
	"github.com/whhaicheng/SchedBench/internal/infra/telemetry"
)

var (
	// ErrPreCheckFailed is returned when an experiment cannot be set up.
	ErrPreCheckFailed = errors.New("pre-check failed")

	// ErrExperimentFailed is returned when an experiment ends in a state
	// other than completed. Its results are still persisted.
	ErrExperimentFailed = errors.New("experiment failed")

	// ErrPersistFailed is returned when a result sink fails.
	ErrPersistFailed = errors.New("persist failed")
)

// Stream labels, used for transcript prefixes and metrics.
const (
	streamScheduler = "scheduler"
	streamBenchmark = "benchmark"
)

// ExperimentResult is the outcome of one experiment.
type ExperimentResult struct {
	Experiment *execution.Experiment
	Aggregate  *execution.Aggregate
	Parser     stats.Counters
	Detector   lifecycle.Counters
}

// Summaries returns the elapsed-time summary of every benchmark.
func (r *ExperimentResult) Summaries() []report.Summary {
	if r == nil || r.Aggregate == nil {
		return nil
	}
	return report.Summarize(r.Aggregate)
}

// HarnessUseCase runs one experiment: a scheduler observed while a
// benchmark driver runs to completion.
type HarnessUseCase struct {
	registry *adapter.AdapterRegistry
	repo     ExperimentRepository // optional
	sinks    []ResultSink
	metrics  *telemetry.Metrics // optional
	logger   *slog.Logger
	now      func() time.Time
}

// NewHarnessUseCase creates a new harness use case. repo and metrics may be nil.
func NewHarnessUseCase(
	registry *adapter.AdapterRegistry,
	repo ExperimentRepository,
	sinks []ResultSink,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *HarnessUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &HarnessUseCase{
		registry: registry,
		repo:     repo,
		sinks:    sinks,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "harness")),
		now:      time.Now,
	}
}

// pipeline holds the per-experiment parsing state. It is owned by the
// multiplexer goroutine.
type pipeline struct {
	parser     *stats.Parser
	detector   *lifecycle.Detector
	aggregator *execution.Aggregator
	metrics    *telemetry.Metrics
	logger     *slog.Logger

	schedTail *process.TailBuffer
	benchTail *process.TailBuffer
}

func (p *pipeline) schedulerLine(line string) {
	p.metrics.LineRead(streamScheduler)
	if p.schedTail != nil {
		p.schedTail.WriteLine(line)
	}
	if s, ok := p.parser.Feed(line); ok {
		p.route(s)
	}
}

func (p *pipeline) benchmarkLine(line string) {
	p.metrics.LineRead(streamBenchmark)
	if p.benchTail != nil {
		p.benchTail.WriteLine(line)
	}
	ev, ok := p.detector.Feed(line)
	if !ok {
		return
	}
	p.metrics.EventSeen(ev.Kind)
	if err := p.aggregator.HandleEvent(ev); err != nil {
		p.logger.Warn("Harness: lifecycle event rejected", "kind", ev.Kind, "benchmark", ev.Benchmark, "error", err)
	}
}

func (p *pipeline) route(s stats.Sample) {
	if p.aggregator.HandleSample(s) {
		p.metrics.SampleEmitted()
	}
}

// flush emits a block left open when the scheduler stream ended.
func (p *pipeline) flush() {
	if p.parser.InBlock() {
		if s, ok := p.parser.Flush(); ok {
			p.route(s)
		}
	}
	if cur := p.aggregator.Current(); cur != "" && p.aggregator.State(cur) == execution.RunActive {
		p.logger.Warn("Harness: run still active when the streams ended", "benchmark", cur)
	}
}

func (p *pipeline) raw() report.RawOutput {
	var raw report.RawOutput
	if p.schedTail != nil {
		raw.Scheduler = p.schedTail.String()
	}
	if p.benchTail != nil {
		raw.Benchmark = p.benchTail.String()
	}
	return raw
}

// schedulerWatch warns once when the scheduler exits while the benchmark
// is still running.
type schedulerWatch struct {
	proc   *process.Process
	warned bool
	logger *slog.Logger
}

func (w *schedulerWatch) Tick() {
	if w.proc == nil || w.warned {
		return
	}
	select {
	case <-w.proc.Done():
	default:
		return
	}
	w.warned = true
	code, _ := w.proc.Wait()
	w.logger.Warn("Harness: scheduler exited before the benchmark finished",
		"process", w.proc.Name(), "exit_code", code, "stderr", lastLine(w.proc.StderrTail()))
}

// RunExperiment runs the experiment cfg describes and persists its
// result. The result is returned even when the experiment fails, as long
// as it got past setup.
func (uc *HarnessUseCase) RunExperiment(ctx context.Context, cfg *config.Config) (*ExperimentResult, error) {
	schedAdapter, benchAdapter, err := uc.adapters(cfg)
	if err != nil {
		return nil, err
	}

	p, err := uc.newPipeline(cfg, schedAdapter, benchAdapter)
	if err != nil {
		return nil, err
	}

	benchCmd, err := benchAdapter.BuildCommand(ctx, &cfg.Benchmark)
	if err != nil {
		return nil, fmt.Errorf("%w: benchmark command: %v", ErrPreCheckFailed, err)
	}
	var schedCmd *adapter.Command
	if schedAdapter != nil {
		if schedCmd, err = schedAdapter.BuildCommand(ctx, &cfg.Scheduler); err != nil {
			return nil, fmt.Errorf("%w: scheduler command: %v", ErrPreCheckFailed, err)
		}
	}

	exp := execution.NewExperiment(uuid.New().String(), schedulerLabel(cfg, schedCmd),
		cfg.Scheduler.Flags, cfg.Benchmark.Benchmarks, cfg.Benchmark.Iterations, uc.now())
	logger := uc.logger.With(slog.String("experiment_id", exp.ID), slog.String("experiment", exp.Name))
	p.logger = logger

	if uc.repo != nil {
		if err := uc.repo.Save(ctx, exp); err != nil {
			return nil, fmt.Errorf("save experiment: %w", err)
		}
	}

	if timeout := cfg.Advanced.RunTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	_ = exp.MarkStarted(uc.now())
	uc.metrics.ExperimentStarted()
	logger.Info("Harness: Experiment started", "scheduler", exp.Scheduler, "benchmarks", exp.Benchmarks)

	runErr := uc.execute(ctx, cfg, exp, p, schedCmd, benchCmd, logger)

	agg := p.aggregator.Freeze()
	result := &ExperimentResult{
		Experiment: exp,
		Aggregate:  agg,
		Parser:     p.parser.Counters(),
		Detector:   p.detector.Counters(),
	}

	state := execution.StateCompleted
	switch {
	case errors.Is(runErr, context.Canceled):
		state = execution.StateCancelled
	case runErr != nil:
		state = execution.StateFailed
	}
	if exp.State == execution.StateRunning {
		_ = exp.SetState(execution.StateDraining)
	}
	if err := exp.Finish(state, uc.now(), runErr); err != nil {
		logger.Error("Harness: invalid final transition", "error", err)
	}

	// Cancelled and failed experiments persist what they collected.
	persistErr := uc.persist(context.WithoutCancel(ctx), exp, agg, p.raw(), logger)
	uc.metrics.ExperimentFinished(exp, agg, result.Parser, result.Detector)

	logger.Info("Harness: Experiment finished",
		"state", exp.State,
		"exit_code", exp.ExitCode,
		"samples", agg.SampleCount(),
		"dropped", agg.TotalDropped(),
		"parse_failures", result.Parser.FieldFailures+result.Parser.DroppedBlocks+result.Detector.ParseFailures)

	if runErr != nil {
		return result, errors.Join(fmt.Errorf("%w: %s: %w", ErrExperimentFailed, exp.Name, runErr), persistErr)
	}
	return result, persistErr
}

// adapters resolves and validates the adapters of cfg. The scheduler
// adapter is nil for baseline experiments.
func (uc *HarnessUseCase) adapters(cfg *config.Config) (adapter.SchedulerAdapter, adapter.BenchmarkAdapter, error) {
	if err := cfg.Scheduler.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: scheduler: %v", ErrPreCheckFailed, err)
	}
	if err := cfg.Benchmark.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: benchmark: %v", ErrPreCheckFailed, err)
	}

	bench := uc.registry.Benchmark(adapter.AdapterType(cfg.Benchmark.Adapter))
	if bench == nil {
		return nil, nil, fmt.Errorf("%w: no benchmark adapter %q", ErrPreCheckFailed, cfg.Benchmark.Adapter)
	}
	if err := bench.ValidateConfig(&cfg.Benchmark); err != nil {
		return nil, nil, fmt.Errorf("%w: benchmark: %v", ErrPreCheckFailed, err)
	}

	if !cfg.Scheduler.Enabled() {
		return nil, bench, nil
	}
	sched := uc.registry.Scheduler(adapter.AdapterType(cfg.Scheduler.Adapter))
	if sched == nil {
		return nil, nil, fmt.Errorf("%w: no scheduler adapter %q", ErrPreCheckFailed, cfg.Scheduler.Adapter)
	}
	if err := sched.ValidateConfig(&cfg.Scheduler); err != nil {
		return nil, nil, fmt.Errorf("%w: scheduler: %v", ErrPreCheckFailed, err)
	}
	return sched, bench, nil
}

// newPipeline builds the parser, detector and aggregator from the adapter
// protocols and the configured overrides.
func (uc *HarnessUseCase) newPipeline(cfg *config.Config, sched adapter.SchedulerAdapter, bench adapter.BenchmarkAdapter) (*pipeline, error) {
	statsCfg := adapter.SchedulerProtocol(cfg.Scheduler.Name)
	if sched != nil {
		statsCfg = sched.StatsConfig(&cfg.Scheduler)
	}
	lifeCfg := bench.LifecycleConfig(&cfg.Benchmark)

	pc := cfg.Protocol
	if pc.StatsDelimiter != "" {
		statsCfg.Delimiter = pc.StatsDelimiter
	}
	if len(pc.Fields) > 0 {
		statsCfg.Fields = pc.Fields
	}
	if pc.StartedMarker != "" {
		lifeCfg.StartedMarker = pc.StartedMarker
	}
	if pc.CompletedMarker != "" {
		lifeCfg.CompletedMarker = pc.CompletedMarker
	}
	if pc.NamePattern != "" {
		lifeCfg.NamePattern = pc.NamePattern
	}

	parser, err := stats.NewParser(statsCfg, uc.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPreCheckFailed, err)
	}
	detector, err := lifecycle.NewDetector(lifeCfg, uc.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPreCheckFailed, err)
	}

	// The detector's fallback name only attributes marker lines. Samples
	// seen before the first started marker have no run unless the driver
	// prints no started markers at all.
	var route string
	if pc.ImplicitRuns {
		route = lifeCfg.DefaultBenchmark
	}

	p := &pipeline{
		parser:   parser,
		detector: detector,
		aggregator: execution.NewAggregator(execution.AggregatorOptions{
			DefaultBenchmark: route,
			ImplicitStart:    pc.ImplicitRuns,
			Logger:           uc.logger,
		}),
		metrics: uc.metrics,
		logger:  uc.logger,
	}
	if limit := cfg.Reports.RawOutputLimit; limit > 0 {
		p.schedTail = process.NewTailBuffer(limit)
		p.benchTail = process.NewTailBuffer(limit)
	}
	return p, nil
}

// execute starts the processes, multiplexes their output until the
// benchmark stream closes, and shuts everything down. It returns the
// cause of failure, if any.
func (uc *HarnessUseCase) execute(
	ctx context.Context,
	cfg *config.Config,
	exp *execution.Experiment,
	p *pipeline,
	schedCmd, benchCmd *adapter.Command,
	logger *slog.Logger,
) error {
	terminateTimeout := cfg.Advanced.TerminateTimeout()

	var (
		sched       *process.Process
		secondaries []stream.Input
	)
	if schedCmd != nil {
		var err error
		sched, err = process.Start(ctx, process.Spec{
			Name: streamScheduler, Argv: schedCmd.Argv, WorkDir: schedCmd.WorkDir, Env: schedCmd.Env,
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := sched.Terminate(terminateTimeout); err != nil {
				logger.Warn("Harness: scheduler termination failed", "error", err)
			}
		}()

		src, err := linesource.New(streamScheduler, sched.Stdout())
		if err != nil {
			sched.Stdout().Close()
			return err
		}
		defer src.Close()
		secondaries = append(secondaries, stream.Input{Label: "Scheduler", Source: src, Handler: p.schedulerLine})
	}

	bench, err := process.Start(ctx, process.Spec{
		Name: streamBenchmark, Argv: benchCmd.Argv, WorkDir: benchCmd.WorkDir, Env: benchCmd.Env,
	}, logger)
	if err != nil {
		return err
	}
	defer bench.Terminate(terminateTimeout)

	benchSrc, err := linesource.New(streamBenchmark, bench.Stdout())
	if err != nil {
		bench.Stdout().Close()
		return err
	}
	defer benchSrc.Close()

	opts := stream.Options{
		RefreshInterval: cfg.Advanced.RefreshInterval(),
		Observer:        &schedulerWatch{proc: sched, logger: logger},
		Logger:          logger,
	}
	if cfg.Reports.Transcript != "" {
		f, err := createTranscript(cfg.Reports.Transcript)
		if err != nil {
			logger.Warn("Harness: transcript disabled", "path", cfg.Reports.Transcript, "error", err)
		} else {
			w := bufio.NewWriter(f)
			defer func() {
				if err := w.Flush(); err != nil {
					logger.Warn("Harness: transcript flush failed", "error", err)
				}
				f.Close()
			}()
			opts.Transcript = w
		}
	}

	mux := stream.New(stream.Input{Label: "Benchmark", Source: benchSrc, Handler: p.benchmarkLine}, secondaries, opts)
	runErr := mux.Run(ctx)
	if runErr != nil {
		logger.Warn("Harness: multiplexer stopped", "error", runErr)
	}

	_ = exp.SetState(execution.StateDraining)

	// The scheduler is stopped before the final drain so its last block
	// is flushed to the pipe.
	if sched != nil {
		if err := sched.Terminate(terminateTimeout); err != nil {
			logger.Warn("Harness: scheduler termination failed", "error", err)
		}
	}
	if runErr != nil {
		_ = bench.Terminate(terminateTimeout)
	}
	if err := mux.FinalDrain(); err != nil {
		logger.Warn("Harness: final drain failed", "error", err)
	}
	p.flush()

	code, waitErr := bench.Wait()
	exp.ExitCode = code

	switch {
	case runErr != nil:
		return runErr
	case ctx.Err() != nil:
		return ctx.Err()
	case waitErr != nil:
		return waitErr
	case code != 0:
		return fmt.Errorf("benchmark exited with status %d: %s", code, lastLine(bench.StderrTail()))
	}
	return nil
}

// persist fans the frozen result out to every sink and, when configured,
// the experiment repository.
func (uc *HarnessUseCase) persist(ctx context.Context, exp *execution.Experiment, agg *execution.Aggregate, raw report.RawOutput, logger *slog.Logger) error {
	sinks := uc.sinks
	if uc.repo != nil {
		sinks = append(append([]ResultSink(nil), sinks...), NewRepositorySink(uc.repo))
	}
	if err := PersistAll(ctx, sinks, exp, agg, raw, logger); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

// schedulerLabel names the scheduler of an experiment: the class name,
// or the program of a command adapter. Empty means baseline.
func schedulerLabel(cfg *config.Config, cmd *adapter.Command) string {
	if cmd == nil {
		return ""
	}
	if cfg.Scheduler.Name != "" {
		return cfg.Scheduler.Name
	}
	return filepath.Base(cmd.Argv[0])
}

func createTranscript(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
