// Package config provides configuration domain models.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/whhaicheng/SchedBench/internal/domain/stats"
)

var (
	// ErrInvalidConfiguration is returned when configuration is invalid.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrToolNotFound is returned when a tool is not found.
	ErrToolNotFound = errors.New("tool not found")
)

// Adapter names understood by the adapter registry.
const (
	AdapterNone        = "none"
	AdapterSchedExt    = "scx"
	AdapterRenaissance = "renaissance"
	AdapterCommand     = "command"
)

// SchedulerConfig describes the scheduler process.
type SchedulerConfig struct {
	// Adapter selects how the command line is built (scx, command, none).
	Adapter string `json:"adapter" yaml:"adapter"`

	// Name is the scheduler class, e.g. RoundRobinSched. Empty runs a baseline.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Flags are appended after --verbose.
	Flags []string `json:"flags,omitempty" yaml:"flags,omitempty"`

	// Launcher is the script that loads a scheduler (scx adapter).
	Launcher string `json:"launcher,omitempty" yaml:"launcher,omitempty"`

	// Command is the full command line (command adapter).
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	WorkDir string   `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Enabled reports whether a scheduler process should be started.
func (c *SchedulerConfig) Enabled() bool {
	return c.Adapter != "" && c.Adapter != AdapterNone
}

// Validate validates the scheduler configuration.
func (c *SchedulerConfig) Validate() error {
	switch c.Adapter {
	case "", AdapterNone:
		return nil
	case AdapterSchedExt:
		if c.Name == "" {
			return fmt.Errorf("%w: scheduler name is required for the scx adapter", ErrInvalidConfiguration)
		}
		if c.Launcher == "" {
			return fmt.Errorf("%w: launcher is required for the scx adapter", ErrInvalidConfiguration)
		}
	case AdapterCommand:
		if c.Command == "" {
			return fmt.Errorf("%w: command is required for the command adapter", ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown scheduler adapter: %s", ErrInvalidConfiguration, c.Adapter)
	}
	return nil
}

// BenchmarkConfig describes the benchmark driver process.
type BenchmarkConfig struct {
	// Adapter selects how the command line is built (renaissance, command).
	Adapter string `json:"adapter" yaml:"adapter"`

	Java       string   `json:"java,omitempty" yaml:"java,omitempty"`
	Jar        string   `json:"jar,omitempty" yaml:"jar,omitempty"`
	Iterations int      `json:"iterations" yaml:"iterations"`
	Benchmarks []string `json:"benchmarks" yaml:"benchmarks"`

	// Command is the full command line (command adapter).
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	WorkDir string   `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Validate validates the benchmark configuration.
func (c *BenchmarkConfig) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("%w: iterations must be at least 1", ErrInvalidConfiguration)
	}
	if len(c.Benchmarks) == 0 {
		return fmt.Errorf("%w: at least one benchmark is required", ErrInvalidConfiguration)
	}

	switch c.Adapter {
	case AdapterRenaissance:
		if c.Jar == "" {
			return fmt.Errorf("%w: jar is required for the renaissance adapter", ErrInvalidConfiguration)
		}
	case AdapterCommand:
		if c.Command == "" {
			return fmt.Errorf("%w: command is required for the command adapter", ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown benchmark adapter: %s", ErrInvalidConfiguration, c.Adapter)
	}
	return nil
}

// ProtocolConfig overrides the line protocols the adapters provide.
// Empty fields keep the adapter defaults.
type ProtocolConfig struct {
	StatsDelimiter string            `json:"stats_delimiter,omitempty" yaml:"stats_delimiter,omitempty"`
	Fields         []stats.FieldSpec `json:"fields,omitempty" yaml:"fields,omitempty"`

	StartedMarker   string `json:"started_marker,omitempty" yaml:"started_marker,omitempty"`
	CompletedMarker string `json:"completed_marker,omitempty" yaml:"completed_marker,omitempty"`
	NamePattern     string `json:"name_pattern,omitempty" yaml:"name_pattern,omitempty"`

	// ImplicitRuns opens a run on the first sample after a completion,
	// for drivers that print no started marker.
	ImplicitRuns bool `json:"implicit_runs,omitempty" yaml:"implicit_runs,omitempty"`
}

// StorageConfig represents the experiment history store.
type StorageConfig struct {
	// Driver is sqlite, mysql, postgres or none.
	Driver string `json:"driver" yaml:"driver"`

	// Path is the SQLite database file.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// DSN is the data source name for mysql and postgres.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case "none":
		return nil
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("%w: storage path is required for sqlite", ErrInvalidConfiguration)
		}
	case "mysql", "postgres":
		if c.DSN == "" {
			return fmt.Errorf("%w: storage dsn is required for %s", ErrInvalidConfiguration, c.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver: %s", ErrInvalidConfiguration, c.Driver)
	}

	if c.MaxOpenConns < 1 {
		return fmt.Errorf("%w: max_open_conns must be at least 1", ErrInvalidConfiguration)
	}
	return nil
}

// ReportConfig represents result file output.
type ReportConfig struct {
	// OutputDir receives <experiment>.json (and .bench).
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Benchfmt also writes elapsed times in Go benchmark format.
	Benchfmt bool `json:"benchfmt" yaml:"benchfmt"`

	// Transcript is the file both streams are teed to. Empty disables it.
	Transcript string `json:"transcript,omitempty" yaml:"transcript,omitempty"`

	// RawOutputLimit keeps the last N bytes of each stream in the result
	// document. Zero omits raw output.
	RawOutputLimit int `json:"raw_output_limit" yaml:"raw_output_limit"`
}

// Validate validates the report configuration.
func (c *ReportConfig) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output_dir is required", ErrInvalidConfiguration)
	}
	if c.RawOutputLimit < 0 {
		return fmt.Errorf("%w: raw_output_limit cannot be negative", ErrInvalidConfiguration)
	}
	return nil
}

// InfluxConfig represents the optional InfluxDB sample export.
type InfluxConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
	Token       string `json:"token,omitempty" yaml:"token,omitempty"`
	Org         string `json:"org,omitempty" yaml:"org,omitempty"`
	Bucket      string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Measurement string `json:"measurement,omitempty" yaml:"measurement,omitempty"`
}

// Validate validates the InfluxDB configuration.
func (c *InfluxConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" || c.Org == "" || c.Bucket == "" {
		return fmt.Errorf("%w: influx url, org and bucket are required when enabled", ErrInvalidConfiguration)
	}
	return nil
}

// MetricsConfig represents the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics. Empty disables the listener.
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// AdvancedConfig represents timing and logging knobs.
type AdvancedConfig struct {
	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string `json:"log_level" yaml:"log_level"`

	// LogDir receives the daily log file. Empty logs to stderr only.
	LogDir string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`

	// RefreshIntervalMS bounds each readiness wait, in milliseconds.
	RefreshIntervalMS int `json:"refresh_interval_ms" yaml:"refresh_interval_ms"`

	// TerminateTimeoutMS is how long the scheduler gets after SIGTERM.
	TerminateTimeoutMS int `json:"terminate_timeout_ms" yaml:"terminate_timeout_ms"`

	// RunTimeoutMinutes caps one experiment. Zero means no limit.
	RunTimeoutMinutes int `json:"run_timeout_minutes" yaml:"run_timeout_minutes"`
}

// Validate validates the advanced configuration.
func (c *AdvancedConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.LogLevel] {
		return fmt.Errorf("%w: invalid log level: %s", ErrInvalidConfiguration, c.LogLevel)
	}

	if c.RefreshIntervalMS < 10 || c.RefreshIntervalMS > 10000 {
		return fmt.Errorf("%w: refresh_interval_ms must be between 10 and 10000", ErrInvalidConfiguration)
	}

	if c.TerminateTimeoutMS < 1 {
		return fmt.Errorf("%w: terminate_timeout_ms must be positive", ErrInvalidConfiguration)
	}

	if c.RunTimeoutMinutes < 0 {
		return fmt.Errorf("%w: run_timeout_minutes cannot be negative", ErrInvalidConfiguration)
	}

	return nil
}

// RefreshInterval returns the readiness wait bound.
func (c *AdvancedConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMS) * time.Millisecond
}

// TerminateTimeout returns the scheduler grace period.
func (c *AdvancedConfig) TerminateTimeout() time.Duration {
	return time.Duration(c.TerminateTimeoutMS) * time.Millisecond
}

// RunTimeout returns the per-experiment cap, zero for none.
func (c *AdvancedConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

// GridConfig lists the experiments of a grid run.
type GridConfig struct {
	// Schedulers are scheduler class names. "None" runs a baseline.
	Schedulers []string   `json:"schedulers" yaml:"schedulers"`
	FlagSets   [][]string `json:"flag_sets" yaml:"flag_sets"`
	Benchmarks []string   `json:"benchmarks" yaml:"benchmarks"`
	Iterations int        `json:"iterations" yaml:"iterations"`
}

// Validate validates the grid configuration.
func (c *GridConfig) Validate() error {
	if len(c.Schedulers) == 0 {
		return nil
	}
	if len(c.Benchmarks) == 0 {
		return fmt.Errorf("%w: grid needs at least one benchmark", ErrInvalidConfiguration)
	}
	if c.Iterations < 1 {
		return fmt.Errorf("%w: grid iterations must be at least 1", ErrInvalidConfiguration)
	}
	return nil
}

// Config represents the complete application configuration.
type Config struct {
	// Version is the configuration version.
	Version int `json:"version" yaml:"version"`

	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Benchmark BenchmarkConfig `json:"benchmark" yaml:"benchmark"`
	Protocol  ProtocolConfig  `json:"protocol" yaml:"protocol"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Reports   ReportConfig    `json:"reports" yaml:"reports"`
	Influx    InfluxConfig    `json:"influx" yaml:"influx"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Advanced  AdvancedConfig  `json:"advanced" yaml:"advanced"`
	Grid      GridConfig      `json:"grid" yaml:"grid"`
}

// Validate validates the complete configuration.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("%w: unsupported configuration version: %d", ErrInvalidConfiguration, c.Version)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if err := c.Benchmark.Validate(); err != nil {
		return fmt.Errorf("benchmark: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if err := c.Reports.Validate(); err != nil {
		return fmt.Errorf("reports: %w", err)
	}

	if err := c.Influx.Validate(); err != nil {
		return fmt.Errorf("influx: %w", err)
	}

	if err := c.Advanced.Validate(); err != nil {
		return fmt.Errorf("advanced: %w", err)
	}

	if err := c.Grid.Validate(); err != nil {
		return fmt.Errorf("grid: %w", err)
	}

	return nil
}

// DefaultConfig returns a default configuration: RoundRobinSched observed
// while Renaissance runs dotty twice, results under ./zdata.
func DefaultConfig() *Config {
	userHomeDir, _ := os.UserHomeDir()
	defaultDBPath := filepath.Join(userHomeDir, ".schedbench", "experiments.db")

	return &Config{
		Version: 1,
		Scheduler: SchedulerConfig{
			Adapter:  AdapterSchedExt,
			Name:     "RoundRobinSched",
			Launcher: "./run.sh",
		},
		Benchmark: BenchmarkConfig{
			Adapter:    AdapterRenaissance,
			Java:       "java",
			Jar:        "renaissance-gpl-0.16.0.jar",
			Iterations: 2,
			Benchmarks: []string{"dotty"},
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			Path:         defaultDBPath,
			MaxOpenConns: 1,
		},
		Reports: ReportConfig{
			OutputDir:      "zdata",
			Benchfmt:       true,
			Transcript:     "output.txt",
			RawOutputLimit: 0,
		},
		Influx: InfluxConfig{
			Measurement: "sched_stats",
		},
		Advanced: AdvancedConfig{
			LogLevel:           "info",
			RefreshIntervalMS:  250, // 4 Hz
			TerminateTimeoutMS: 10000,
			RunTimeoutMinutes:  0,
		},
		Grid: GridConfig{
			Schedulers: []string{"RoundRobinSched", "IOPrioSched", "PrioSchedWeightedAvg"},
			FlagSets: [][]string{
				{"--slice_time_prio=10000000", "--slice_time=5000000"},
				{"--slice_time_prio=10000000", "--slice_time=10000000"},
				{"--slice_time_prio=10000000", "--slice_time=20000000"},
				{"--slice_time_prio=10000000", "--slice_time=40000000"},
			},
			Benchmarks: []string{"dotty", "reactors", "page-rank", "db-shootout"},
			Iterations: 30,
		},
	}
}
