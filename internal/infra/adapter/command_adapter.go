package adapter

import (
	"context"
	"fmt"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/lifecycle"
	"github.com/whhaicheng/SchedBench/internal/domain/stats"
)

// CommandSchedulerAdapter runs a scheduler from a raw command line. The
// stats protocol follows the configured class name, if any.
type CommandSchedulerAdapter struct{}

// NewCommandSchedulerAdapter creates a new command scheduler adapter.
func NewCommandSchedulerAdapter() *CommandSchedulerAdapter {
	return &CommandSchedulerAdapter{}
}

// Type returns the adapter type.
func (a *CommandSchedulerAdapter) Type() AdapterType {
	return AdapterTypeCommand
}

// ValidateConfig validates the configuration for this adapter.
func (a *CommandSchedulerAdapter) ValidateConfig(cfg *config.SchedulerConfig) error {
	if cfg == nil {
		return fmt.Errorf("scheduler config is required")
	}
	if _, err := ParseCommandLine(cfg.Command); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

// BuildCommand builds the scheduler command. Flags are appended.
func (a *CommandSchedulerAdapter) BuildCommand(ctx context.Context, cfg *config.SchedulerConfig) (*Command, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scheduler config is required")
	}
	argv, err := ParseCommandLine(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	return &Command{
		Argv:    append(argv, cfg.Flags...),
		WorkDir: cfg.WorkDir,
		Env:     cfg.Env,
	}, nil
}

// StatsConfig returns the stats protocol of the configured class.
func (a *CommandSchedulerAdapter) StatsConfig(cfg *config.SchedulerConfig) stats.Config {
	return SchedulerProtocol(cfg.Name)
}

// CommandBenchmarkAdapter runs a benchmark driver from a raw command line.
type CommandBenchmarkAdapter struct{}

// NewCommandBenchmarkAdapter creates a new command benchmark adapter.
func NewCommandBenchmarkAdapter() *CommandBenchmarkAdapter {
	return &CommandBenchmarkAdapter{}
}

// Type returns the adapter type.
func (a *CommandBenchmarkAdapter) Type() AdapterType {
	return AdapterTypeCommand
}

// ValidateConfig validates the configuration for this adapter.
func (a *CommandBenchmarkAdapter) ValidateConfig(cfg *config.BenchmarkConfig) error {
	if cfg == nil {
		return fmt.Errorf("benchmark config is required")
	}
	if _, err := ParseCommandLine(cfg.Command); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

// BuildCommand builds the benchmark command.
func (a *CommandBenchmarkAdapter) BuildCommand(ctx context.Context, cfg *config.BenchmarkConfig) (*Command, error) {
	if err := a.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	argv, _ := ParseCommandLine(cfg.Command)
	return &Command{
		Argv:    argv,
		WorkDir: cfg.WorkDir,
		Env:     cfg.Env,
	}, nil
}

// LifecycleConfig returns the default markers.
func (a *CommandBenchmarkAdapter) LifecycleConfig(cfg *config.BenchmarkConfig) lifecycle.Config {
	lc := lifecycle.DefaultConfig()
	lc.DefaultBenchmark = defaultBenchmark(cfg.Benchmarks)
	return lc
}
