package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/report"
)

// FileSink writes one JSON document, and optionally a benchfmt file, per
// experiment into a directory.
type FileSink struct {
	dir      string
	benchfmt bool
	json     *JSONWriter
	bench    *BenchfmtWriter
	logger   *slog.Logger
}

// NewFileSink creates a sink writing into dir.
func NewFileSink(dir string, withBenchfmt bool, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{
		dir:      dir,
		benchfmt: withBenchfmt,
		json:     NewJSONWriter(),
		bench:    NewBenchfmtWriter(),
		logger:   logger,
	}
}

// Name identifies the sink in logs.
func (s *FileSink) Name() string {
	return "files"
}

// Path returns the result file for an experiment name and format.
func (s *FileSink) Path(name string, format report.ReportFormat) string {
	return filepath.Join(s.dir, fileStem(name)+format.FileExtension())
}

// Persist writes the result files of one experiment.
func (s *FileSink) Persist(ctx context.Context, exp *execution.Experiment, agg *execution.Aggregate, raw report.RawOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.Path(exp.Name, report.FormatJSON)
	if err := s.json.WriteFile(path, report.BuildDocument(exp, agg, raw)); err != nil {
		return fmt.Errorf("write result document: %w", err)
	}
	s.logger.Info("Result written", slog.String("path", path))

	if !s.benchfmt {
		return nil
	}
	path = s.Path(exp.Name, report.FormatBenchfmt)
	if err := s.bench.WriteFile(path, exp, agg); err != nil {
		return fmt.Errorf("write benchfmt: %w", err)
	}
	s.logger.Debug("Benchfmt written", slog.String("path", path))
	return nil
}

// Has reports whether a result document exists for name.
func (s *FileSink) Has(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(s.Path(name, report.FormatJSON))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// fileStem makes an experiment name safe to use as a file name.
func fileStem(name string) string {
	stem := strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator || r == 0 {
			return '_'
		}
		return r
	}, name)
	if stem == "" || strings.HasPrefix(stem, ".") {
		stem = "_" + stem
	}
	return stem
}
