// Package telemetry exposes harness metrics to Prometheus.
//
// All methods are safe on a nil *Metrics, so components can record
// unconditionally and callers that do not want metrics pass nil.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/lifecycle"
	"github.com/whhaicheng/SchedBench/internal/domain/stats"
)

const metricsNamespace = "schedbench"

// Metrics holds the harness collectors and their private registry.
type Metrics struct {
	registry *prometheus.Registry

	LinesTotal          *prometheus.CounterVec
	SamplesTotal        prometheus.Counter
	SamplesDroppedTotal *prometheus.CounterVec
	ParseFailuresTotal  *prometheus.CounterVec
	EventsTotal         *prometheus.CounterVec
	ExperimentsTotal    *prometheus.CounterVec
	ExperimentDuration  *prometheus.HistogramVec
	ActiveExperiments   prometheus.Gauge
}

// NewMetrics registers every collector on a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LinesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lines_total",
			Help:      "Lines read from subprocess output, by stream.",
		}, []string{"stream"}),
		SamplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "samples_total",
			Help:      "Scheduler stats samples emitted by the block parser.",
		}),
		SamplesDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "samples_dropped_total",
			Help:      "Samples the aggregator did not keep, by reason.",
		}, []string{"reason"}),
		ParseFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "parse_failures_total",
			Help:      "Lines that matched a protocol but failed to parse, by kind.",
		}, []string{"kind"}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lifecycle_events_total",
			Help:      "Benchmark lifecycle events, by kind.",
		}, []string{"kind"}),
		ExperimentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "experiments_total",
			Help:      "Finished experiments, by final state.",
		}, []string{"state"}),
		ExperimentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "experiment_duration_seconds",
			Help:      "Wall time of finished experiments.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2.3h
		}, []string{"scheduler"}),
		ActiveExperiments: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_experiments",
			Help:      "Experiments currently running.",
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// LineRead counts one line from stream.
func (m *Metrics) LineRead(stream string) {
	if m == nil {
		return
	}
	m.LinesTotal.WithLabelValues(stream).Inc()
}

// SampleEmitted counts one parsed sample.
func (m *Metrics) SampleEmitted() {
	if m == nil {
		return
	}
	m.SamplesTotal.Inc()
}

// EventSeen counts one lifecycle event.
func (m *Metrics) EventSeen(kind lifecycle.Kind) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(string(kind)).Inc()
}

// ExperimentStarted marks an experiment active.
func (m *Metrics) ExperimentStarted() {
	if m == nil {
		return
	}
	m.ActiveExperiments.Inc()
}

// ExperimentFinished records the outcome and counters of one experiment.
func (m *Metrics) ExperimentFinished(exp *execution.Experiment, agg *execution.Aggregate, parser stats.Counters, detector lifecycle.Counters) {
	if m == nil {
		return
	}
	m.ActiveExperiments.Dec()
	m.ExperimentsTotal.WithLabelValues(string(exp.State)).Inc()
	if exp.Duration != nil {
		m.ExperimentDuration.WithLabelValues(exp.Scheduler).Observe(exp.Duration.Seconds())
	}

	if agg != nil {
		for reason, n := range agg.Dropped {
			m.SamplesDroppedTotal.WithLabelValues(string(reason)).Add(float64(n))
		}
	}
	m.ParseFailuresTotal.WithLabelValues("field").Add(float64(parser.FieldFailures))
	m.ParseFailuresTotal.WithLabelValues("block").Add(float64(parser.DroppedBlocks))
	m.ParseFailuresTotal.WithLabelValues("completed").Add(float64(detector.ParseFailures))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics listener started", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
