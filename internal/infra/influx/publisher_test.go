package influx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/lifecycle"
	"github.com/whhaicheng/SchedBench/internal/domain/report"
	"github.com/whhaicheng/SchedBench/internal/domain/stats"
)

type writeRecorder struct {
	mu     sync.Mutex
	bodies []string
	query  []string
	status int
}

func (r *writeRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.bodies = append(r.bodies, string(body))
	r.query = append(r.query, req.URL.RawQuery)
	status := r.status
	r.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func testResult(t *testing.T) (*execution.Experiment, *execution.Aggregate) {
	t.Helper()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := execution.NewExperiment("e1", "IOPrioSched", []string{"--slice_time=5000000"}, []string{"dotty"}, 1, created)

	a := execution.NewAggregator(execution.AggregatorOptions{})
	require.NoError(t, a.HandleEvent(lifecycle.Event{Kind: lifecycle.KindStarted, Benchmark: "dotty"}))
	a.HandleSample(stats.Sample{Step: 1, Fields: map[string]float64{"Slice usage": 0.5}, ObservedAt: created.Add(time.Second)})
	a.HandleSample(stats.Sample{Step: 2, Fields: map[string]float64{"Slice usage": 0.75}})
	require.NoError(t, a.HandleEvent(lifecycle.Event{Kind: lifecycle.KindCompleted, Benchmark: "dotty", Elapsed: 812.5}))
	return exp, a.Freeze()
}

func testConfig(url string) config.InfluxConfig {
	return config.InfluxConfig{
		Enabled:     true,
		URL:         url,
		Token:       "token",
		Org:         "lab",
		Bucket:      "sched",
		Measurement: "sched_stats",
	}
}

// TestNewPublisher_Validation tests configuration checks.
func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(config.InfluxConfig{}, nil)
	assert.True(t, errors.Is(err, config.ErrInvalidConfiguration))

	_, err = NewPublisher(config.InfluxConfig{Enabled: true, URL: "http://localhost:8086"}, nil)
	assert.True(t, errors.Is(err, config.ErrInvalidConfiguration))
}

// TestPublisher_Points tests the conversion of samples and run times.
func TestPublisher_Points(t *testing.T) {
	p, err := NewPublisher(testConfig("http://127.0.0.1:1"), nil)
	require.NoError(t, err)
	defer p.Close()

	exp, agg := testResult(t)
	points := p.Points(exp, agg)
	require.Len(t, points, 3)

	assert.Equal(t, "sched_stats", points[0].Name())
	assert.Equal(t, exp.CreatedAt.Add(time.Second), points[0].Time())
	// No observation time: creation time plus the step.
	assert.Equal(t, exp.CreatedAt.Add(2*time.Millisecond), points[1].Time())
	assert.Equal(t, "sched_stats_runs", points[2].Name())

	fields := map[string]interface{}{}
	for _, f := range points[0].FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 0.5, fields["Slice_usage"])
	assert.Equal(t, int64(1), fields["step"])

	tags := map[string]string{}
	for _, tag := range points[0].TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, "dotty", tags["benchmark"])
	assert.Equal(t, "0", tags["run"])
	assert.Equal(t, "IOPrioSched", tags["scheduler"])
	assert.Equal(t, "true", tags["sealed"])
}

// TestPublisher_Persist tests writes against a fake InfluxDB.
func TestPublisher_Persist(t *testing.T) {
	rec := &writeRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	p, err := NewPublisher(testConfig(srv.URL), nil)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "influx", p.Name())

	exp, agg := testResult(t)
	require.NoError(t, p.Persist(context.Background(), exp, agg, report.RawOutput{}))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.bodies, 1)
	assert.Contains(t, rec.query[0], "org=lab")
	assert.Contains(t, rec.query[0], "bucket=sched")

	lines := strings.Split(strings.TrimSpace(rec.bodies[0]), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "sched_stats,benchmark=dotty,"), lines[0])
	assert.Contains(t, lines[0], "Slice_usage=0.5")
	assert.Contains(t, lines[2], "elapsed_ms=812.5")
}

// TestPublisher_Persist_ServerError tests that write failures are returned.
func TestPublisher_Persist_ServerError(t *testing.T) {
	rec := &writeRecorder{status: http.StatusBadRequest}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	p, err := NewPublisher(testConfig(srv.URL), nil)
	require.NoError(t, err)
	defer p.Close()

	exp, agg := testResult(t)
	err = p.Persist(context.Background(), exp, agg, report.RawOutput{})
	assert.Error(t, err)
}
