package adapter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/lifecycle"
)

// RenaissanceAdapter runs the Renaissance suite:
// java -jar <jar> -r <iterations> <benchmarks...>
type RenaissanceAdapter struct{}

// NewRenaissanceAdapter creates a new Renaissance adapter.
func NewRenaissanceAdapter() *RenaissanceAdapter {
	return &RenaissanceAdapter{}
}

// Type returns the adapter type.
func (a *RenaissanceAdapter) Type() AdapterType {
	return AdapterTypeRenaissance
}

// ValidateConfig validates the configuration for this adapter.
func (a *RenaissanceAdapter) ValidateConfig(cfg *config.BenchmarkConfig) error {
	if cfg == nil {
		return fmt.Errorf("benchmark config is required")
	}
	if cfg.Jar == "" {
		return fmt.Errorf("jar is required")
	}
	if cfg.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", cfg.Iterations)
	}
	if len(cfg.Benchmarks) == 0 {
		return fmt.Errorf("at least one benchmark is required")
	}
	return nil
}

// BuildCommand builds the benchmark command.
func (a *RenaissanceAdapter) BuildCommand(ctx context.Context, cfg *config.BenchmarkConfig) (*Command, error) {
	if err := a.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	java := cfg.Java
	if java == "" {
		java = "java"
	}

	argv := []string{java, "-jar", cfg.Jar, "-r", strconv.Itoa(cfg.Iterations)}
	argv = append(argv, cfg.Benchmarks...)

	return &Command{
		Argv:    argv,
		WorkDir: cfg.WorkDir,
		Env:     cfg.Env,
	}, nil
}

// LifecycleConfig returns the Renaissance run markers, e.g.
// "====== dotty (scala) [default], iteration 0 completed (5340.253 ms) ======".
func (a *RenaissanceAdapter) LifecycleConfig(cfg *config.BenchmarkConfig) lifecycle.Config {
	lc := lifecycle.DefaultConfig()
	lc.DefaultBenchmark = defaultBenchmark(cfg.Benchmarks)
	return lc
}
