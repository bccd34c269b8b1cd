// Package adapter provides unit tests for scheduler and benchmark adapters.
package adapter

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/lifecycle"
	"github.com/whhaicheng/SchedBench/internal/domain/stats"
)

// TestAdapterRegistry tests registration and lookup.
func TestAdapterRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	assert.NotNil(t, r.Scheduler(AdapterTypeSchedExt))
	assert.NotNil(t, r.Scheduler(AdapterTypeCommand))
	assert.Nil(t, r.Scheduler(AdapterTypeRenaissance))
	assert.NotNil(t, r.Benchmark(AdapterTypeRenaissance))
	assert.NotNil(t, r.Benchmark(AdapterTypeCommand))
	assert.Nil(t, r.Benchmark(AdapterType("dacapo")))

	assert.Equal(t, []AdapterType{AdapterTypeCommand, AdapterTypeRenaissance, AdapterTypeSchedExt}, r.List())
}

// TestSchedExtAdapter_BuildCommand tests the run.sh command line.
func TestSchedExtAdapter_BuildCommand(t *testing.T) {
	a := NewSchedExtAdapter()
	cfg := &config.SchedulerConfig{
		Adapter:  config.AdapterSchedExt,
		Name:     "PrioSchedWeightedAvg",
		Launcher: "./run.sh",
		Flags:    []string{"--slice_time_prio=10000000", "--slice_time=5000000"},
		WorkDir:  "/opt/hello-ebpf",
	}

	cmd, err := a.BuildCommand(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"./run.sh", "PrioSchedWeightedAvg", "--verbose", "--slice_time_prio=10000000", "--slice_time=5000000"}, cmd.Argv)
	assert.Equal(t, "/opt/hello-ebpf", cmd.WorkDir)
	assert.Equal(t, "./run.sh PrioSchedWeightedAvg --verbose --slice_time_prio=10000000 --slice_time=5000000", cmd.CmdLine())
}

// TestSchedExtAdapter_ValidateConfig tests configuration checks.
func TestSchedExtAdapter_ValidateConfig(t *testing.T) {
	a := NewSchedExtAdapter()

	tests := []struct {
		name    string
		cfg     *config.SchedulerConfig
		wantErr bool
	}{
		{"valid", &config.SchedulerConfig{Name: "RoundRobinSched", Launcher: "./run.sh"}, false},
		{"nil config", nil, true},
		{"missing name", &config.SchedulerConfig{Launcher: "./run.sh"}, true},
		{"missing launcher", &config.SchedulerConfig{Name: "RoundRobinSched"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.ValidateConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestSchedulerProtocol tests per-class field registries.
func TestSchedulerProtocol(t *testing.T) {
	tests := []struct {
		class      string
		delimiter  string
		wantFields []string
	}{
		{"RoundRobinSched", stats.DefaultDelimiter, []string{"total_wait_time", "total_enqueues", "used_slice_time", "num_slices", "slice_usage"}},
		{"PrioSchedWeightedAvg", stats.DefaultDelimiter, []string{"total_wait_time", "total_enqueues", "total_prio_wait_time", "total_prio_enqueues", "total_normal_wait_time", "total_normal_enqueues"}},
		{"IOPrioSched", counterDelimiter, []string{"avg_wait_time", "slice_usage_ns", "slice_usage"}},
	}

	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			cfg := SchedulerProtocol(tt.class)
			require.NoError(t, cfg.Validate())
			assert.Equal(t, tt.delimiter, cfg.Delimiter)

			var names []string
			for _, f := range cfg.Fields {
				names = append(names, f.Name)
			}
			assert.Equal(t, tt.wantFields, names)
		})
	}

	t.Run("unknown class gets union", func(t *testing.T) {
		cfg := SchedulerProtocol("FIFOScheduler")
		require.NoError(t, cfg.Validate())
		assert.Len(t, cfg.Fields, 9)
	})
}

// TestSchedulerProtocol_IOPrioSchedOutput tests the IOPrioSched layout,
// where the header follows an unterminated "queue:" line.
func TestSchedulerProtocol_IOPrioSchedOutput(t *testing.T) {
	p, err := stats.NewParser(SchedulerProtocol("IOPrioSched"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	lines := []string{
		"Stats:", "",
		"Average wait time: ", "1200",
		"Slice usage: 4500000", "Slice usage: 0.90",
		"queue: trueStats:", "",
		"Average wait time: ", "800",
		"Slice usage: 2500000", "Slice usage: 0.50",
	}

	var samples []stats.Sample
	for _, line := range lines {
		if s, ok := p.Feed(line); ok {
			samples = append(samples, s)
		}
	}

	require.Len(t, samples, 2)
	assert.Equal(t, int64(1), samples[0].Step)
	assert.Equal(t, int64(2), samples[1].Step)
	assert.Equal(t, map[string]float64{
		"avg_wait_time":  1200,
		"slice_usage_ns": 4500000,
		"slice_usage":    0.90,
	}, samples[0].Fields)
	assert.Equal(t, map[string]float64{
		"avg_wait_time":  800,
		"slice_usage_ns": 2500000,
		"slice_usage":    0.50,
	}, samples[1].Fields)
	assert.Zero(t, p.Counters().FieldFailures)
}

// TestRenaissanceAdapter_BuildCommand tests the java command line.
func TestRenaissanceAdapter_BuildCommand(t *testing.T) {
	a := NewRenaissanceAdapter()
	cfg := &config.BenchmarkConfig{
		Adapter:    config.AdapterRenaissance,
		Jar:        "renaissance-gpl-0.16.0.jar",
		Iterations: 2,
		Benchmarks: []string{"reactors", "dotty"},
	}

	cmd, err := a.BuildCommand(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"java", "-jar", "renaissance-gpl-0.16.0.jar", "-r", "2", "reactors", "dotty"}, cmd.Argv)

	cfg.Java = "/usr/lib/jvm/java-21/bin/java"
	cmd, err = a.BuildCommand(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "/usr/lib/jvm/java-21/bin/java", cmd.Argv[0])

	cfg.Iterations = 0
	_, err = a.BuildCommand(context.Background(), cfg)
	assert.Error(t, err)
}

// TestRenaissanceAdapter_LifecycleConfig tests default attribution.
func TestRenaissanceAdapter_LifecycleConfig(t *testing.T) {
	a := NewRenaissanceAdapter()

	single := a.LifecycleConfig(&config.BenchmarkConfig{Benchmarks: []string{"dotty"}})
	assert.Equal(t, "dotty", single.DefaultBenchmark)
	assert.Equal(t, lifecycle.DefaultConfig().StartedMarker, single.StartedMarker)

	several := a.LifecycleConfig(&config.BenchmarkConfig{Benchmarks: []string{"dotty", "reactors"}})
	assert.Empty(t, several.DefaultBenchmark)
}

// TestCommandAdapters tests raw command lines.
func TestCommandAdapters(t *testing.T) {
	sched := NewCommandSchedulerAdapter()
	cmd, err := sched.BuildCommand(context.Background(), &config.SchedulerConfig{
		Name:    "RoundRobinSched",
		Command: `sudo ./run.sh RoundRobinSched --verbose`,
		Flags:   []string{"--slice_time=5000000"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sudo", "./run.sh", "RoundRobinSched", "--verbose", "--slice_time=5000000"}, cmd.Argv)
	assert.Equal(t, roundRobinFields, sched.StatsConfig(&config.SchedulerConfig{Name: "RoundRobinSched"}).Fields)

	bench := NewCommandBenchmarkAdapter()
	_, err = bench.BuildCommand(context.Background(), &config.BenchmarkConfig{Command: ""})
	assert.Error(t, err)

	cmd, err = bench.BuildCommand(context.Background(), &config.BenchmarkConfig{Command: `/bin/sh -c "echo hi"`})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi"}, cmd.Argv)
}

// TestParseCommandLine tests quote-aware splitting.
func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"simple", "java -jar r.jar", []string{"java", "-jar", "r.jar"}, false},
		{"double quotes", `sh -c "echo a b"`, []string{"sh", "-c", "echo a b"}, false},
		{"single quotes keep backslash", `sh -c 'a\b'`, []string{"sh", "-c", `a\b`}, false},
		{"escaped space", `run\ me now`, []string{"run me", "now"}, false},
		{"empty quoted argument", `prog "" x`, []string{"prog", "", "x"}, false},
		{"extra whitespace", "  a \t b  ", []string{"a", "b"}, false},
		{"unclosed quote", `sh -c "echo`, nil, true},
		{"empty", "   ", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommandLine(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
