// Package lifecycle detects benchmark run boundaries in benchmark driver output.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidConfig is returned when a detector configuration is unusable.
	ErrInvalidConfig = errors.New("invalid lifecycle configuration")
)

const (
	// DefaultStartedMarker is the Renaissance "iteration N started" suffix.
	DefaultStartedMarker = "started ==="
	// DefaultCompletedMarker precedes the elapsed time on completion lines.
	DefaultCompletedMarker = "completed ("
	// DefaultNamePattern extracts "dotty" from "====== dotty (scala) ...".
	DefaultNamePattern = `^=+\s*(\S+)`
)

// elapsedPattern finds the first decimal number in a completion line.
var elapsedPattern = regexp.MustCompile(`\d+\.\d+`)

// Kind tags a lifecycle event.
type Kind string

const (
	KindStarted   Kind = "started"
	KindCompleted Kind = "completed"
)

// String implements Stringer interface.
func (k Kind) String() string {
	return string(k)
}

// Event is a run boundary observed in the benchmark stream.
type Event struct {
	Kind      Kind    `json:"kind"`
	Benchmark string  `json:"benchmark"`
	Elapsed   float64 `json:"elapsed,omitempty"` // Completed only
}

// Config describes the line protocol of one benchmark driver.
type Config struct {
	StartedMarker   string `json:"started_marker" yaml:"started_marker"`
	CompletedMarker string `json:"completed_marker" yaml:"completed_marker"`

	// NamePattern's first capture group is the benchmark name.
	NamePattern string `json:"name_pattern" yaml:"name_pattern"`

	// DefaultBenchmark names lines the pattern cannot attribute.
	DefaultBenchmark string `json:"default_benchmark,omitempty" yaml:"default_benchmark,omitempty"`
}

// DefaultConfig returns the Renaissance protocol.
func DefaultConfig() Config {
	return Config{
		StartedMarker:   DefaultStartedMarker,
		CompletedMarker: DefaultCompletedMarker,
		NamePattern:     DefaultNamePattern,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.StartedMarker == "" || c.CompletedMarker == "" {
		return fmt.Errorf("%w: started and completed markers are required", ErrInvalidConfig)
	}
	if c.NamePattern == "" {
		if c.DefaultBenchmark == "" {
			return fmt.Errorf("%w: name_pattern or default_benchmark is required", ErrInvalidConfig)
		}
		return nil
	}
	re, err := regexp.Compile(c.NamePattern)
	if err != nil {
		return fmt.Errorf("%w: name_pattern: %v", ErrInvalidConfig, err)
	}
	if re.NumSubexp() < 1 {
		return fmt.Errorf("%w: name_pattern needs a capture group", ErrInvalidConfig)
	}
	return nil
}

// Counters summarizes what a detector has seen.
type Counters struct {
	Started       int `json:"started"`
	Completed     int `json:"completed"`
	ParseFailures int `json:"parse_failures"`
	Unattributed  int `json:"unattributed"`
}

// Detector turns benchmark output lines into lifecycle events.
type Detector struct {
	cfg      Config
	name     *regexp.Regexp
	logger   *slog.Logger
	counters Counters
}

// NewDetector creates a detector for the given protocol.
func NewDetector(cfg Config, logger *slog.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Detector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "lifecycle_detector")),
	}
	if cfg.NamePattern != "" {
		d.name = regexp.MustCompile(cfg.NamePattern)
	}
	return d, nil
}

// Feed consumes one line and returns an event if the line is a run boundary.
func (d *Detector) Feed(line string) (Event, bool) {
	var kind Kind
	switch {
	case strings.Contains(line, d.cfg.StartedMarker):
		kind = KindStarted
	case strings.Contains(line, d.cfg.CompletedMarker):
		kind = KindCompleted
	default:
		return Event{}, false
	}

	name := d.benchmarkName(line)
	if name == "" {
		d.counters.Unattributed++
		d.logger.Warn("Lifecycle: marker without benchmark name", "kind", kind, "line", line)
		return Event{}, false
	}

	ev := Event{Kind: kind, Benchmark: name}
	if kind == KindCompleted {
		elapsed, err := ParseElapsed(line)
		if err != nil {
			d.counters.ParseFailures++
			d.logger.Warn("Lifecycle: completion without elapsed time",
				"benchmark", name, "line", line, "error", err)
			return Event{}, false
		}
		ev.Elapsed = elapsed
		d.counters.Completed++
	} else {
		d.counters.Started++
	}
	return ev, true
}

// Counters returns a copy of the detector counters.
func (d *Detector) Counters() Counters {
	return d.counters
}

func (d *Detector) benchmarkName(line string) string {
	if d.name != nil {
		if m := d.name.FindStringSubmatch(line); m != nil && m[1] != "" {
			return m[1]
		}
	}
	return d.cfg.DefaultBenchmark
}

// ParseElapsed returns the first decimal number in line. A name that itself
// contains a decimal number will shadow the elapsed time.
func ParseElapsed(line string) (float64, error) {
	tok := elapsedPattern.FindString(line)
	if tok == "" {
		return 0, fmt.Errorf("no decimal number in %q", line)
	}
	return strconv.ParseFloat(tok, 64)
}
