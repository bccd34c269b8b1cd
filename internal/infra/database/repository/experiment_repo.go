// Package repository provides SQL repository implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/whhaicheng/SchedBench/internal/app/usecase"
	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/infra/database"
)

var (
	// ErrExperimentNotFound is returned when an experiment is not found.
	ErrExperimentNotFound = usecase.ErrExperimentNotFound
)

// sortColumns whitelists FindOptions.SortBy values.
var sortColumns = map[string]bool{
	"created_at":       true,
	"started_at":       true,
	"duration_seconds": true,
	"name":             true,
}

// timeFormat is fixed-width so that stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const experimentColumns = `id, name, scheduler, flags_json, benchmarks_json, iterations, state,
	created_at, started_at, completed_at, duration_seconds, exit_code, error_message`

// SQLExperimentRepository implements usecase.ExperimentRepository on SQLite,
// MySQL or PostgreSQL.
type SQLExperimentRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLExperimentRepository creates a new experiment repository.
func NewSQLExperimentRepository(db *sql.DB, dialect database.Dialect) *SQLExperimentRepository {
	return &SQLExperimentRepository{db: db, dialect: dialect}
}

func (r *SQLExperimentRepository) q(query string) string {
	return r.dialect.Rebind(query)
}

// Save saves an experiment to the database.
// If the experiment already exists (by ID), it will be updated.
func (r *SQLExperimentRepository) Save(ctx context.Context, exp *execution.Experiment) error {
	flagsJSON, err := json.Marshal(nonNil(exp.Flags))
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	benchmarksJSON, err := json.Marshal(nonNil(exp.Benchmarks))
	if err != nil {
		return fmt.Errorf("marshal benchmarks: %w", err)
	}

	// Prepare duration
	var durationSeconds *float64
	if exp.Duration != nil {
		d := exp.Duration.Seconds()
		durationSeconds = &d
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM experiments WHERE id = ?`), exp.ID).Scan(&count); err != nil {
		return fmt.Errorf("check experiment: %w", err)
	}

	if count == 0 {
		_, err = tx.ExecContext(ctx, r.q(`
			INSERT INTO experiments (
				id, name, scheduler, flags_json, benchmarks_json, iterations, state,
				created_at, started_at, completed_at, duration_seconds, exit_code, error_message
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			exp.ID,
			exp.Name,
			exp.Scheduler,
			string(flagsJSON),
			string(benchmarksJSON),
			exp.Iterations,
			string(exp.State),
			formatTime(&exp.CreatedAt),
			formatTime(exp.StartedAt),
			formatTime(exp.CompletedAt),
			durationSeconds,
			exp.ExitCode,
			exp.ErrorMessage,
		)
	} else {
		_, err = tx.ExecContext(ctx, r.q(`
			UPDATE experiments SET
				state = ?, started_at = ?, completed_at = ?, duration_seconds = ?,
				exit_code = ?, error_message = ?
			WHERE id = ?`),
			string(exp.State),
			formatTime(exp.StartedAt),
			formatTime(exp.CompletedAt),
			durationSeconds,
			exp.ExitCode,
			exp.ErrorMessage,
			exp.ID,
		)
	}
	if err != nil {
		return fmt.Errorf("save experiment: %w", err)
	}

	return tx.Commit()
}

// SaveResults replaces the run times and samples of an experiment.
func (r *SQLExperimentRepository) SaveResults(ctx context.Context, experimentID string, agg *execution.Aggregate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM experiments WHERE id = ?`), experimentID).Scan(&count); err != nil {
		return fmt.Errorf("check experiment: %w", err)
	}
	if count == 0 {
		return ErrExperimentNotFound
	}

	if _, err := tx.ExecContext(ctx, r.q(`UPDATE experiments SET dropped_samples = ? WHERE id = ?`),
		agg.TotalDropped(), experimentID); err != nil {
		return fmt.Errorf("update dropped samples: %w", err)
	}

	for _, table := range []string{"run_times", "samples"} {
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM `+table+` WHERE experiment_id = ?`), experimentID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	timeStmt, err := tx.PrepareContext(ctx, r.q(`
		INSERT INTO run_times (experiment_id, benchmark, ordinal, elapsed_ms) VALUES (?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare run_times: %w", err)
	}
	defer timeStmt.Close()

	sampleStmt, err := tx.PrepareContext(ctx, r.q(`
		INSERT INTO samples (experiment_id, benchmark, run_ordinal, step, field, value) VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare samples: %w", err)
	}
	defer sampleStmt.Close()

	for _, b := range agg.Benchmarks {
		for i, elapsed := range b.Times {
			if _, err := timeStmt.ExecContext(ctx, experimentID, b.Name, i, elapsed); err != nil {
				return fmt.Errorf("save run time: %w", err)
			}
		}
		for _, run := range b.Runs {
			for _, s := range run.Samples {
				for field, v := range s.Fields {
					if _, err := sampleStmt.ExecContext(ctx, experimentID, b.Name, run.Ordinal, s.Step, field, v); err != nil {
						return fmt.Errorf("save sample: %w", err)
					}
				}
			}
		}
	}

	return tx.Commit()
}

// FindByID finds an experiment by its ID.
func (r *SQLExperimentRepository) FindByID(ctx context.Context, id string) (*execution.Experiment, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`), id)
	return r.scanOne(row)
}

// FindByName finds the most recent experiment with the given name.
func (r *SQLExperimentRepository) FindByName(ctx context.Context, name string) (*execution.Experiment, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+experimentColumns+`
		FROM experiments WHERE name = ? ORDER BY created_at DESC LIMIT 1`), name)
	return r.scanOne(row)
}

func (r *SQLExperimentRepository) scanOne(row *sql.Row) (*execution.Experiment, error) {
	exp, err := scanExperiment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExperimentNotFound
		}
		return nil, err
	}
	return exp, nil
}

// FindAll finds experiments with optional filtering and pagination.
func (r *SQLExperimentRepository) FindAll(ctx context.Context, opts usecase.FindOptions) ([]*execution.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE 1=1`
	args := []interface{}{}

	// Apply filters
	if opts.StateFilter != nil {
		query += " AND state = ?"
		args = append(args, string(*opts.StateFilter))
	}
	if opts.Scheduler != "" {
		query += " AND scheduler = ?"
		args = append(args, opts.Scheduler)
	}

	// Apply sorting
	sortBy := "created_at"
	if sortColumns[opts.SortBy] {
		sortBy = opts.SortBy
	}
	sortOrder := "DESC"
	if opts.SortOrder == "ASC" {
		sortOrder = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	// Apply pagination
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query experiments: %w", err)
	}
	defer rows.Close()

	var exps []*execution.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		exps = append(exps, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiments: %w", err)
	}

	return exps, nil
}

// ExistsByName reports whether a completed experiment has this name.
func (r *SQLExperimentRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM experiments WHERE name = ? AND state = ?`),
		name, string(execution.StateCompleted)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check experiment name: %w", err)
	}
	return count > 0, nil
}

// Has implements usecase.ResultIndex.
func (r *SQLExperimentRepository) Has(ctx context.Context, name string) (bool, error) {
	return r.ExistsByName(ctx, name)
}

// GetRunTimes returns the elapsed times of every benchmark, in run order.
func (r *SQLExperimentRepository) GetRunTimes(ctx context.Context, experimentID string) (map[string][]float64, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT benchmark, elapsed_ms FROM run_times
		WHERE experiment_id = ?
		ORDER BY benchmark, ordinal`), experimentID)
	if err != nil {
		return nil, fmt.Errorf("query run times: %w", err)
	}
	defer rows.Close()

	times := make(map[string][]float64)
	for rows.Next() {
		var name string
		var elapsed float64
		if err := rows.Scan(&name, &elapsed); err != nil {
			return nil, fmt.Errorf("scan run time: %w", err)
		}
		times[name] = append(times[name], elapsed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run times: %w", err)
	}
	return times, nil
}

// Delete deletes an experiment and its results.
func (r *SQLExperimentRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"samples", "run_times"} {
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM `+table+` WHERE experiment_id = ?`), id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}

	result, err := tx.ExecContext(ctx, r.q(`DELETE FROM experiments WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrExperimentNotFound
	}

	return tx.Commit()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanExperiment(s scanner) (*execution.Experiment, error) {
	var exp execution.Experiment
	var flagsJSON, benchmarksJSON, stateStr, createdAtStr string
	var startedAtStr, completedAtStr, errMsg sql.NullString
	var durationSeconds sql.NullFloat64

	err := s.Scan(
		&exp.ID,
		&exp.Name,
		&exp.Scheduler,
		&flagsJSON,
		&benchmarksJSON,
		&exp.Iterations,
		&stateStr,
		&createdAtStr,
		&startedAtStr,
		&completedAtStr,
		&durationSeconds,
		&exp.ExitCode,
		&errMsg,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan experiment: %w", err)
	}

	exp.State = execution.ExperimentState(stateStr)
	exp.ErrorMessage = errMsg.String

	if err := json.Unmarshal([]byte(flagsJSON), &exp.Flags); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	if err := json.Unmarshal([]byte(benchmarksJSON), &exp.Benchmarks); err != nil {
		return nil, fmt.Errorf("parse benchmarks: %w", err)
	}

	// Parse timestamps
	if exp.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if exp.StartedAt, err = parseTime(startedAtStr); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if exp.CompletedAt, err = parseTime(completedAtStr); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	// Parse duration
	if durationSeconds.Valid {
		d := time.Duration(durationSeconds.Float64 * float64(time.Second))
		exp.Duration = &d
	}

	return &exp, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeFormat)
	return &s
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
