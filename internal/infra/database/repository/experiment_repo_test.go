// Package repository provides unit tests for the experiment repository.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/whhaicheng/SchedBench/internal/app/usecase"
	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/domain/lifecycle"
	"github.com/whhaicheng/SchedBench/internal/domain/stats"
	"github.com/whhaicheng/SchedBench/internal/infra/database"
)

// setupExperimentTestDB creates an in-memory SQLite database with the schema.
func setupExperimentTestDB(t *testing.T) *SQLExperimentRepository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection: every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := database.ApplySchema(context.Background(), db, database.DialectSQLite); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return NewSQLExperimentRepository(db, database.DialectSQLite)
}

func newTestExperiment(scheduler string, created time.Time) *execution.Experiment {
	return execution.NewExperiment(uuid.New().String(), scheduler,
		[]string{"--slice_time=5000000"}, []string{"dotty"}, 2, created)
}

func testAggregate(t *testing.T) *execution.Aggregate {
	t.Helper()
	a := execution.NewAggregator(execution.AggregatorOptions{})
	for i, elapsed := range []float64{5340.25, 4210.5} {
		if err := a.HandleEvent(lifecycle.Event{Kind: lifecycle.KindStarted, Benchmark: "dotty"}); err != nil {
			t.Fatal(err)
		}
		a.HandleSample(stats.Sample{Step: int64(i + 1), Fields: map[string]float64{"total_wait_time": 100, "total_enqueues": 4}})
		if err := a.HandleEvent(lifecycle.Event{Kind: lifecycle.KindCompleted, Benchmark: "dotty", Elapsed: elapsed}); err != nil {
			t.Fatal(err)
		}
	}
	a.HandleSample(stats.Sample{Step: 3, Fields: map[string]float64{"total_enqueues": 1}})
	return a.Freeze()
}

// TestSQLExperimentRepository_Save_FindByID tests Save and FindByID operations.
func TestSQLExperimentRepository_Save_FindByID(t *testing.T) {
	ctx := context.Background()
	repo := setupExperimentTestDB(t)

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	exp := newTestExperiment("RoundRobinSched", created)
	if err := exp.MarkStarted(created.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	if err := repo.Save(ctx, exp); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := repo.FindByID(ctx, exp.ID)
	if err != nil {
		t.Fatalf("FindByID() failed: %v", err)
	}

	if got.Name != exp.Name {
		t.Errorf("Name = %q, want %q", got.Name, exp.Name)
	}
	if got.State != execution.StateRunning {
		t.Errorf("State = %s, want running", got.State)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(created.Add(time.Second)) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}
	if len(got.Flags) != 1 || got.Flags[0] != "--slice_time=5000000" {
		t.Errorf("Flags = %v", got.Flags)
	}
	if got.CompletedAt != nil || got.Duration != nil {
		t.Error("CompletedAt and Duration should be nil")
	}
}

// TestSQLExperimentRepository_Save_Update tests that a second Save updates.
func TestSQLExperimentRepository_Save_Update(t *testing.T) {
	ctx := context.Background()
	repo := setupExperimentTestDB(t)

	now := time.Now()
	exp := newTestExperiment("IOPrioSched", now)
	_ = exp.MarkStarted(now)
	if err := repo.Save(ctx, exp); err != nil {
		t.Fatal(err)
	}

	_ = exp.SetState(execution.StateDraining)
	exp.ExitCode = 1
	if err := exp.Finish(execution.StateFailed, now.Add(time.Minute), errors.New("benchmark exited with status 1")); err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(ctx, exp); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}

	got, err := repo.FindByID(ctx, exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != execution.StateFailed || got.ExitCode != 1 {
		t.Errorf("State = %s, ExitCode = %d", got.State, got.ExitCode)
	}
	if got.ErrorMessage != "benchmark exited with status 1" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
	if got.Duration == nil || *got.Duration != time.Minute {
		t.Errorf("Duration = %v, want 1m", got.Duration)
	}
}

// TestSQLExperimentRepository_FindByID_NotFound tests the sentinel error.
func TestSQLExperimentRepository_FindByID_NotFound(t *testing.T) {
	repo := setupExperimentTestDB(t)

	_, err := repo.FindByID(context.Background(), "missing")
	if !errors.Is(err, ErrExperimentNotFound) {
		t.Errorf("FindByID() error = %v, want ErrExperimentNotFound", err)
	}
	_, err = repo.FindByName(context.Background(), "missing")
	if !errors.Is(err, ErrExperimentNotFound) {
		t.Errorf("FindByName() error = %v, want ErrExperimentNotFound", err)
	}
}

// TestSQLExperimentRepository_SaveResults tests run times and samples.
func TestSQLExperimentRepository_SaveResults(t *testing.T) {
	ctx := context.Background()
	repo := setupExperimentTestDB(t)

	exp := newTestExperiment("RoundRobinSched", time.Now())
	if err := repo.Save(ctx, exp); err != nil {
		t.Fatal(err)
	}

	agg := testAggregate(t)
	if err := repo.SaveResults(ctx, exp.ID, agg); err != nil {
		t.Fatalf("SaveResults() failed: %v", err)
	}
	// Saving again replaces rather than duplicates.
	if err := repo.SaveResults(ctx, exp.ID, agg); err != nil {
		t.Fatalf("second SaveResults() failed: %v", err)
	}

	times, err := repo.GetRunTimes(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetRunTimes() failed: %v", err)
	}
	if got := times["dotty"]; len(got) != 2 || got[0] != 5340.25 || got[1] != 4210.5 {
		t.Errorf("run times = %v, want [5340.25 4210.5]", got)
	}

	var samples int
	if err := repo.db.QueryRow("SELECT COUNT(*) FROM samples WHERE experiment_id = ?", exp.ID).Scan(&samples); err != nil {
		t.Fatal(err)
	}
	if samples != 5 {
		t.Errorf("sample rows = %d, want 5", samples)
	}

	if err := repo.SaveResults(ctx, "missing", agg); !errors.Is(err, ErrExperimentNotFound) {
		t.Errorf("SaveResults(missing) error = %v, want ErrExperimentNotFound", err)
	}
}

// TestSQLExperimentRepository_FindAll tests filtering, sorting and paging.
func TestSQLExperimentRepository_FindAll(t *testing.T) {
	ctx := context.Background()
	repo := setupExperimentTestDB(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, sched := range []string{"RoundRobinSched", "IOPrioSched", "RoundRobinSched"} {
		exp := newTestExperiment(sched, base.Add(time.Duration(i)*time.Hour))
		if err := repo.Save(ctx, exp); err != nil {
			t.Fatal(err)
		}
	}

	all, err := repo.FindAll(ctx, usecase.FindOptions{})
	if err != nil {
		t.Fatalf("FindAll() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if !all[0].CreatedAt.After(all[2].CreatedAt) {
		t.Error("default order should be newest first")
	}

	rr, err := repo.FindAll(ctx, usecase.FindOptions{Scheduler: "RoundRobinSched"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rr) != 2 {
		t.Errorf("scheduler filter len = %d, want 2", len(rr))
	}

	pending := execution.StatePending
	page, err := repo.FindAll(ctx, usecase.FindOptions{StateFilter: &pending, Limit: 1, Offset: 1, SortOrder: "ASC"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || !page[0].CreatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("page = %v", page)
	}

	// Unknown sort columns fall back to created_at.
	if _, err := repo.FindAll(ctx, usecase.FindOptions{SortBy: "1; DROP TABLE experiments"}); err != nil {
		t.Errorf("FindAll() with bad sort failed: %v", err)
	}
}

// TestSQLExperimentRepository_ExistsByName tests the grid skip check.
func TestSQLExperimentRepository_ExistsByName(t *testing.T) {
	ctx := context.Background()
	repo := setupExperimentTestDB(t)

	now := time.Now()
	exp := newTestExperiment("None", now)
	if err := repo.Save(ctx, exp); err != nil {
		t.Fatal(err)
	}

	exists, err := repo.ExistsByName(ctx, exp.Name)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("pending experiment should not count as an existing result")
	}

	_ = exp.MarkStarted(now)
	_ = exp.SetState(execution.StateDraining)
	_ = exp.Finish(execution.StateCompleted, now, nil)
	if err := repo.Save(ctx, exp); err != nil {
		t.Fatal(err)
	}

	exists, err = repo.Has(ctx, exp.Name)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("completed experiment should exist")
	}
}

// TestSQLExperimentRepository_Delete tests deletion.
func TestSQLExperimentRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := setupExperimentTestDB(t)

	exp := newTestExperiment("RoundRobinSched", time.Now())
	if err := repo.Save(ctx, exp); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveResults(ctx, exp.ID, testAggregate(t)); err != nil {
		t.Fatal(err)
	}

	if err := repo.Delete(ctx, exp.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := repo.FindByID(ctx, exp.ID); !errors.Is(err, ErrExperimentNotFound) {
		t.Errorf("FindByID() after delete error = %v", err)
	}
	times, err := repo.GetRunTimes(ctx, exp.ID)
	if err != nil || len(times) != 0 {
		t.Errorf("GetRunTimes() after delete = %v, %v", times, err)
	}

	if err := repo.Delete(ctx, exp.ID); !errors.Is(err, ErrExperimentNotFound) {
		t.Errorf("second Delete() error = %v, want ErrExperimentNotFound", err)
	}
}
