// Package stats provides the incremental parser for periodic scheduler
// statistics blocks.
package stats

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidConfig is returned when a parser configuration is unusable.
	ErrInvalidConfig = errors.New("invalid stats parser configuration")
)

// DefaultDelimiter matches the "step: <n>" line that opens every block
// printed by the sched_ext sample schedulers.
const DefaultDelimiter = `^\s*step:\s*(\S+)`

// fieldLine matches "<label>: <value>". Labels may contain inner spaces
// ("Slice usage: 0.52"). The value is empty on a bare "<label>:" line.
var fieldLine = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_ ]*?)\s*:\s*(\S*)\s*$`)

// FieldKind is the numeric type a registered field is parsed as.
type FieldKind string

const (
	FieldInt   FieldKind = "int"
	FieldFloat FieldKind = "float"
)

// Validate checks if the kind is known.
func (k FieldKind) Validate() error {
	switch k {
	case FieldInt, FieldFloat:
		return nil
	default:
		return fmt.Errorf("%w: unknown field kind %q", ErrInvalidConfig, k)
	}
}

// FieldSpec registers one named field.
type FieldSpec struct {
	Name string    `json:"name" yaml:"name"`
	Kind FieldKind `json:"kind" yaml:"kind"`

	// Label is the text printed before the colon, when it differs from
	// Name. Specs sharing a label take its occurrences in a block in
	// registry order.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// NextLine reads the value from the line after a bare "<label>:".
	NextLine bool `json:"next_line,omitempty" yaml:"next_line,omitempty"`
}

func (f FieldSpec) label() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// Config describes the block protocol of one scheduler.
type Config struct {
	// Delimiter is a regular expression matching the block-start line.
	// Its first capture group, if any, is the time step. Without a
	// capture group, steps are assigned from a block counter.
	Delimiter string `json:"delimiter" yaml:"delimiter"`

	// Fields is the field registry. Lines naming other fields are ignored.
	Fields []FieldSpec `json:"fields" yaml:"fields"`
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Delimiter == "" {
		return fmt.Errorf("%w: delimiter is required", ErrInvalidConfig)
	}
	if _, err := regexp.Compile(c.Delimiter); err != nil {
		return fmt.Errorf("%w: delimiter: %v", ErrInvalidConfig, err)
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("%w: at least one field is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: field name is required", ErrInvalidConfig)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidConfig, f.Name)
		}
		seen[f.Name] = true
		if err := f.Kind.Validate(); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

// Sample is one parsed statistics block.
type Sample struct {
	Step       int64              `json:"step"`
	Fields     map[string]float64 `json:"fields"`
	ObservedAt time.Time          `json:"-"`
}

// Value returns the value of a field and whether it was present.
func (s Sample) Value(name string) (float64, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

// Counters summarizes what a parser has seen.
type Counters struct {
	Blocks        int `json:"blocks"`
	Emitted       int `json:"emitted"`
	Duplicates    int `json:"duplicates"`
	DroppedBlocks int `json:"dropped_blocks"`
	FieldFailures int `json:"field_failures"`
}

type block struct {
	step     int64
	stepText string
	stepErr  error
	values   map[string]float64
	seen     map[string]bool
	hits     map[string]int
	pending  *FieldSpec
}

// Parser turns scheduler output lines into Samples. It is not safe for
// concurrent use; one parser belongs to one stream.
type Parser struct {
	delimiter *regexp.Regexp
	hasStep   bool
	kinds     map[string]FieldKind
	labels    map[string][]FieldSpec
	logger    *slog.Logger
	now       func() time.Time

	cur      *block
	ordinal  int64
	lastStep int64
	haveLast bool
	counters Counters
}

// NewParser creates a parser for the given protocol.
func NewParser(cfg Config, logger *slog.Logger) (*Parser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	re := regexp.MustCompile(cfg.Delimiter)
	kinds := make(map[string]FieldKind, len(cfg.Fields))
	labels := make(map[string][]FieldSpec, len(cfg.Fields))
	for _, f := range cfg.Fields {
		kinds[f.Name] = f.Kind
		labels[f.label()] = append(labels[f.label()], f)
	}

	return &Parser{
		delimiter: re,
		hasStep:   re.NumSubexp() > 0,
		kinds:     kinds,
		labels:    labels,
		logger:    logger.With(slog.String("component", "stats_parser")),
		now:       time.Now,
	}, nil
}

// Feed consumes one line and returns a sample if the line closed a block.
func (p *Parser) Feed(line string) (Sample, bool) {
	if m := p.delimiter.FindStringSubmatch(line); m != nil {
		sample, ok := p.close()
		p.open(m)
		return sample, ok
	}

	if p.cur == nil {
		return Sample{}, false
	}

	b := p.cur
	if b.pending != nil {
		raw := strings.TrimSpace(line)
		if raw == "" {
			return Sample{}, false
		}
		spec := *b.pending
		b.pending = nil
		return p.record(spec, raw)
	}

	m := fieldLine.FindStringSubmatch(line)
	if m == nil {
		return Sample{}, false
	}
	label, raw := m[1], m[2]
	specs := p.labels[label]
	n := b.hits[label]
	if n >= len(specs) {
		return Sample{}, false
	}
	spec := specs[n]
	if raw == "" && !spec.NextLine {
		return Sample{}, false
	}
	b.hits[label] = n + 1
	if raw == "" {
		b.pending = &spec
		return Sample{}, false
	}
	return p.record(spec, raw)
}

// record stores one field value and closes the block once every
// registered field has been seen.
func (p *Parser) record(spec FieldSpec, raw string) (Sample, bool) {
	p.cur.seen[spec.Name] = true

	v, err := parseValue(spec.Kind, raw)
	if err != nil {
		p.counters.FieldFailures++
		p.logger.Warn("Stats: field parse failed",
			"field", spec.Name, "value", raw, "step", p.cur.stepText, "error", err)
	} else {
		p.cur.values[spec.Name] = v
	}

	if len(p.cur.seen) == len(p.kinds) {
		return p.close()
	}
	return Sample{}, false
}

// Flush closes the open block, if any. Call it once the stream has ended.
func (p *Parser) Flush() (Sample, bool) {
	return p.close()
}

// Counters returns a copy of the parser counters.
func (p *Parser) Counters() Counters {
	return p.counters
}

// InBlock reports whether a block is currently open.
func (p *Parser) InBlock() bool {
	return p.cur != nil
}

func (p *Parser) open(m []string) {
	p.counters.Blocks++
	p.ordinal++

	b := &block{
		values: make(map[string]float64, len(p.kinds)),
		seen:   make(map[string]bool, len(p.kinds)),
		hits:   make(map[string]int, len(p.labels)),
	}
	if p.hasStep {
		b.stepText = m[1]
		b.step, b.stepErr = strconv.ParseInt(m[1], 10, 64)
	} else {
		b.step = p.ordinal
		b.stepText = strconv.FormatInt(p.ordinal, 10)
	}
	p.cur = b
}

func (p *Parser) close() (Sample, bool) {
	b := p.cur
	if b == nil {
		return Sample{}, false
	}
	p.cur = nil

	if b.stepErr != nil {
		p.counters.DroppedBlocks++
		p.logger.Warn("Stats: dropping block with unreadable step",
			"step", b.stepText, "error", b.stepErr)
		return Sample{}, false
	}

	if p.haveLast && b.step == p.lastStep {
		p.counters.Duplicates++
		p.logger.Debug("Stats: duplicate step discarded", "step", b.step)
		return Sample{}, false
	}

	p.lastStep = b.step
	p.haveLast = true
	p.counters.Emitted++

	return Sample{
		Step:       b.step,
		Fields:     b.values,
		ObservedAt: p.now(),
	}, true
}

func parseValue(kind FieldKind, raw string) (float64, error) {
	switch kind {
	case FieldInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, err
		}
		return float64(n), nil
	default:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("non-finite value %q", raw)
		}
		return v, nil
	}
}
