// Package adapter builds the scheduler and benchmark command lines and
// supplies the line protocols their output follows.
package adapter

import (
	"context"
	"sort"
	"strings"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/lifecycle"
	"github.com/whhaicheng/SchedBench/internal/domain/stats"
)

// AdapterType represents the type of adapter.
type AdapterType string

const (
	// AdapterTypeSchedExt launches a sched_ext sample scheduler through run.sh.
	AdapterTypeSchedExt AdapterType = config.AdapterSchedExt
	// AdapterTypeRenaissance runs the Renaissance suite through java -jar.
	AdapterTypeRenaissance AdapterType = config.AdapterRenaissance
	// AdapterTypeCommand runs a command line taken verbatim from config.
	AdapterTypeCommand AdapterType = config.AdapterCommand
)

// Command represents a command to be executed.
type Command struct {
	// Argv is the program and its arguments.
	Argv []string `json:"argv"`
	// Working directory
	WorkDir string `json:"work_dir"`
	// Environment variables
	Env []string `json:"env,omitempty"`
}

// CmdLine returns the command as a single line for logging.
func (c *Command) CmdLine() string {
	return strings.Join(c.Argv, " ")
}

// SchedulerAdapter drives one kind of scheduler process.
type SchedulerAdapter interface {
	// Type returns the adapter type.
	Type() AdapterType

	// ValidateConfig validates the configuration for this adapter.
	ValidateConfig(cfg *config.SchedulerConfig) error

	// BuildCommand builds the scheduler command.
	BuildCommand(ctx context.Context, cfg *config.SchedulerConfig) (*Command, error)

	// StatsConfig returns the stats block protocol the scheduler prints.
	StatsConfig(cfg *config.SchedulerConfig) stats.Config
}

// BenchmarkAdapter drives one kind of benchmark driver process.
type BenchmarkAdapter interface {
	// Type returns the adapter type.
	Type() AdapterType

	// ValidateConfig validates the configuration for this adapter.
	ValidateConfig(cfg *config.BenchmarkConfig) error

	// BuildCommand builds the benchmark command.
	BuildCommand(ctx context.Context, cfg *config.BenchmarkConfig) (*Command, error)

	// LifecycleConfig returns the markers the driver prints around each run.
	LifecycleConfig(cfg *config.BenchmarkConfig) lifecycle.Config
}

// AdapterRegistry manages scheduler and benchmark adapters.
type AdapterRegistry struct {
	schedulers map[AdapterType]SchedulerAdapter
	benchmarks map[AdapterType]BenchmarkAdapter
}

// NewAdapterRegistry creates a new adapter registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{
		schedulers: make(map[AdapterType]SchedulerAdapter),
		benchmarks: make(map[AdapterType]BenchmarkAdapter),
	}
}

// NewDefaultRegistry returns a registry holding every built-in adapter.
func NewDefaultRegistry() *AdapterRegistry {
	r := NewAdapterRegistry()
	r.RegisterScheduler(NewSchedExtAdapter())
	r.RegisterScheduler(NewCommandSchedulerAdapter())
	r.RegisterBenchmark(NewRenaissanceAdapter())
	r.RegisterBenchmark(NewCommandBenchmarkAdapter())
	return r
}

// RegisterScheduler registers a scheduler adapter.
func (r *AdapterRegistry) RegisterScheduler(a SchedulerAdapter) {
	r.schedulers[a.Type()] = a
}

// RegisterBenchmark registers a benchmark adapter.
func (r *AdapterRegistry) RegisterBenchmark(a BenchmarkAdapter) {
	r.benchmarks[a.Type()] = a
}

// Scheduler returns a scheduler adapter by type.
// Returns nil if the adapter is not registered.
func (r *AdapterRegistry) Scheduler(t AdapterType) SchedulerAdapter {
	return r.schedulers[t]
}

// Benchmark returns a benchmark adapter by type.
// Returns nil if the adapter is not registered.
func (r *AdapterRegistry) Benchmark(t AdapterType) BenchmarkAdapter {
	return r.benchmarks[t]
}

// List returns all registered adapter types, sorted.
func (r *AdapterRegistry) List() []AdapterType {
	seen := make(map[AdapterType]bool)
	for t := range r.schedulers {
		seen[t] = true
	}
	for t := range r.benchmarks {
		seen[t] = true
	}
	types := make([]AdapterType, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// defaultBenchmark picks the benchmark that unattributed lifecycle lines
// belong to: the only one, when a driver runs a single benchmark.
func defaultBenchmark(benchmarks []string) string {
	if len(benchmarks) == 1 {
		return benchmarks[0]
	}
	return ""
}
