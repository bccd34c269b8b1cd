// Package influx exports experiment samples to InfluxDB.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/report"
)

// batchSize bounds the points sent in one write request.
const batchSize = 5000

// Publisher writes every kept sample as a point of the configured
// measurement, and every completed run as a point of "<measurement>_runs".
type Publisher struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	logger      *slog.Logger
}

// NewPublisher creates a publisher for cfg. The caller must Close it.
func NewPublisher(cfg config.InfluxConfig, logger *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: influx export is disabled", config.ErrInvalidConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "sched_stats"
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Publisher{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
		logger:      logger,
	}, nil
}

// Name identifies the sink in logs.
func (p *Publisher) Name() string {
	return "influx"
}

// Persist writes the samples and run times of one experiment.
func (p *Publisher) Persist(ctx context.Context, exp *execution.Experiment, agg *execution.Aggregate, _ report.RawOutput) error {
	points := p.Points(exp, agg)
	for start := 0; start < len(points); start += batchSize {
		end := start + batchSize
		if end > len(points) {
			end = len(points)
		}
		if err := p.writeAPI.WritePoint(ctx, points[start:end]...); err != nil {
			return fmt.Errorf("write points to influxdb: %w", err)
		}
	}
	p.logger.Info("Samples exported to InfluxDB",
		slog.String("experiment", exp.Name),
		slog.Int("points", len(points)))
	return nil
}

// Points converts an aggregate into InfluxDB points. Samples without an
// observation time are placed at the experiment creation time plus their
// step in milliseconds, which keeps them distinct.
func (p *Publisher) Points(exp *execution.Experiment, agg *execution.Aggregate) []*write.Point {
	tags := map[string]string{
		"experiment": exp.Name,
		"scheduler":  exp.Scheduler,
		"flags":      strings.Join(exp.Flags, " "),
	}

	var points []*write.Point
	for _, b := range agg.Benchmarks {
		for _, r := range b.Runs {
			run := strconv.Itoa(r.Ordinal)
			for _, s := range r.Samples {
				if len(s.Fields) == 0 {
					continue
				}
				fields := make(map[string]interface{}, len(s.Fields)+1)
				for k, v := range s.Fields {
					fields[fieldKey(k)] = v
				}
				fields["step"] = s.Step

				ts := s.ObservedAt
				if ts.IsZero() {
					ts = exp.CreatedAt.Add(time.Duration(s.Step) * time.Millisecond)
				}
				points = append(points, influxdb2.NewPoint(p.measurement,
					withTags(tags, "benchmark", b.Name, "run", run, "sealed", strconv.FormatBool(r.Sealed)),
					fields, ts))
			}
		}

		end := exp.CreatedAt
		if exp.CompletedAt != nil {
			end = *exp.CompletedAt
		}
		for i, elapsed := range b.Times {
			points = append(points, influxdb2.NewPointWithMeasurement(p.measurement+"_runs").
				AddTag("experiment", exp.Name).
				AddTag("scheduler", exp.Scheduler).
				AddTag("benchmark", b.Name).
				AddTag("run", strconv.Itoa(i)).
				AddField("elapsed_ms", elapsed).
				SetTime(end.Add(time.Duration(i)*time.Microsecond)))
		}
	}
	return points
}

// Close releases the client.
func (p *Publisher) Close() {
	p.client.Close()
}

func withTags(base map[string]string, kv ...string) map[string]string {
	out := make(map[string]string, len(base)+len(kv)/2)
	for k, v := range base {
		if v != "" {
			out[k] = v
		}
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

// fieldKey replaces spaces, as in "Slice usage", with underscores.
func fieldKey(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}
