//go:build linux || darwin

// Package stream multiplexes the output of the scheduler and benchmark
// processes onto a single goroutine.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/whhaicheng/SchedBench/internal/infra/linesource"
)

const (
	// DefaultRefreshInterval bounds each readiness wait.
	DefaultRefreshInterval = 250 * time.Millisecond

	// DefaultLinesPerWake caps the lines taken from one source per wakeup.
	DefaultLinesPerWake = 256
)

// Handler receives every line of one stream, in order.
type Handler func(line string)

// Observer is notified when a readiness wait times out with no input.
type Observer interface {
	Tick()
}

// Input binds a source to its handler.
type Input struct {
	// Label prefixes transcript lines ("Scheduler", "Benchmark").
	Label   string
	Source  *linesource.Source
	Handler Handler
}

// Options configures a Multiplexer.
type Options struct {
	RefreshInterval time.Duration
	Observer        Observer

	// LinesPerWake caps the lines dispatched from one source before the
	// other sources are served. Zero means DefaultLinesPerWake.
	LinesPerWake int

	// Transcript receives "<Label>: <line>" for every line. Optional.
	Transcript io.Writer

	Logger *slog.Logger
}

type input struct {
	Input
	primary bool
	closed  bool
	backlog bool
}

// Multiplexer waits on a primary source and any number of secondary
// sources and dispatches their lines. The loop ends when the primary
// source closes.
type Multiplexer struct {
	inputs     []*input
	primary    *input
	refresh    time.Duration
	budget     int
	observer   Observer
	transcript io.Writer
	logger     *slog.Logger
}

// New creates a multiplexer.
func New(primary Input, secondaries []Input, opts Options) *Multiplexer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	budget := opts.LinesPerWake
	if budget <= 0 {
		budget = DefaultLinesPerWake
	}

	m := &Multiplexer{
		refresh:    refresh,
		budget:     budget,
		observer:   opts.Observer,
		transcript: opts.Transcript,
		logger:     logger.With(slog.String("component", "stream")),
	}
	m.primary = &input{Input: primary, primary: true}
	m.inputs = append(m.inputs, m.primary)
	for _, in := range secondaries {
		m.inputs = append(m.inputs, &input{Input: in})
	}
	return m
}

// Run dispatches lines until the primary source closes, the context is
// cancelled, or a stream fails.
func (m *Multiplexer) Run(ctx context.Context) error {
	refresh := int(m.refresh / time.Millisecond)

	for !m.primary.closed {
		if err := ctx.Err(); err != nil {
			return err
		}

		open := m.open()
		fds := make([]unix.PollFd, len(open))
		timeout, backlog := refresh, false
		for i, in := range open {
			fds[i] = unix.PollFd{Fd: int32(in.Source.Fd()), Events: unix.POLLIN}
			if in.backlog {
				timeout, backlog = 0, true
			}
		}

		n, err := unix.Poll(fds, timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}

		if n == 0 && !backlog {
			if m.observer != nil {
				m.observer.Tick()
			}
			continue
		}

		// Lines left behind by the budget may sit in the source buffer
		// with nothing left on the descriptor.
		for i, in := range open {
			if fds[i].Revents == 0 && !in.backlog {
				continue
			}
			if err := m.drain(in, m.budget); err != nil {
				return err
			}
		}
	}

	return nil
}

// FinalDrain reads whatever every source still holds without waiting.
func (m *Multiplexer) FinalDrain() error {
	for _, in := range m.inputs {
		if in.closed {
			continue
		}
		if err := m.drain(in, 0); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multiplexer) open() []*input {
	open := make([]*input, 0, len(m.inputs))
	for _, in := range m.inputs {
		if !in.closed {
			open = append(open, in)
		}
	}
	return open
}

// drain hands the currently available lines of in to its handler, at
// most limit of them when limit is positive.
func (m *Multiplexer) drain(in *input, limit int) error {
	in.backlog = false
	for read := 0; ; read++ {
		if limit > 0 && read == limit {
			in.backlog = true
			break
		}
		line, ok, err := in.Source.ReadLine()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		m.tee(in.Label, line)
		in.Handler(line)
	}

	if in.Source.IsClosed() {
		in.closed = true
		if in.primary {
			m.logger.Debug("Stream: primary closed", "stream", in.Label)
		} else {
			m.logger.Warn("Stream: secondary closed before primary", "stream", in.Label)
		}
	}
	return nil
}

func (m *Multiplexer) tee(label, line string) {
	if m.transcript == nil {
		return
	}
	if _, err := fmt.Fprintf(m.transcript, "%s: %s\n", label, line); err != nil {
		m.logger.Warn("Stream: transcript write failed, disabling", "error", err)
		m.transcript = nil
	}
}
