package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/whhaicheng/SchedBench/internal/app/usecase"
	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/infra/adapter"
	"github.com/whhaicheng/SchedBench/internal/infra/database"
	"github.com/whhaicheng/SchedBench/internal/infra/database/repository"
	"github.com/whhaicheng/SchedBench/internal/infra/influx"
	"github.com/whhaicheng/SchedBench/internal/infra/keyring"
	"github.com/whhaicheng/SchedBench/internal/infra/report"
	"github.com/whhaicheng/SchedBench/internal/infra/telemetry"
)

// app holds the wired dependencies of one CLI invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *sql.DB
	repo    usecase.ExperimentRepository
	files   *report.FileSink
	influx  *influx.Publisher
	metrics *telemetry.Metrics

	closeLog func()
}

// secretsDir holds the encrypted credential store.
func secretsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".schedbench", "secrets")
}

// loadApp loads the configuration, resolves its secret references and
// opens the result store.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := settings().GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Advanced.LogLevel = logLevel
	}

	logger, closeLog, err := newLogger(cfg.Advanced.LogLevel, cfg.Advanced.LogDir)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	a := &app{cfg: cfg, logger: logger, closeLog: closeLog}

	if hasSecretRefs(cfg) {
		store, err := keyring.NewFileStoreFromEnv(secretsDir())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open secret store: %w", err)
		}
		if err := keyring.ResolveConfig(ctx, store, cfg); err != nil {
			a.Close()
			return nil, err
		}
	}

	db, dialect, err := database.Open(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if db == nil {
		a.repo = usecase.NewMemoryExperimentRepository()
	} else {
		a.db = db
		a.repo = repository.NewSQLExperimentRepository(db, dialect)
	}

	logger.Debug("Configuration loaded",
		slog.String("path", configPath),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("scheduler", cfg.Scheduler.Name),
	)
	return a, nil
}

func hasSecretRefs(cfg *config.Config) bool {
	return strings.HasPrefix(cfg.Storage.DSN, keyring.SecretPrefix) ||
		strings.HasPrefix(cfg.Influx.Token, keyring.SecretPrefix)
}

// harness wires the sinks and metrics an experiment run needs. Metrics
// are served until ctx is done when a listen address is configured.
func (a *app) harness(ctx context.Context) (*usecase.HarnessUseCase, error) {
	a.files = report.NewFileSink(a.cfg.Reports.OutputDir, a.cfg.Reports.Benchfmt, a.logger)
	sinks := []usecase.ResultSink{a.files}

	if a.cfg.Influx.Enabled {
		pub, err := influx.NewPublisher(a.cfg.Influx, a.logger)
		if err != nil {
			return nil, err
		}
		a.influx = pub
		sinks = append(sinks, pub)
	}

	a.metrics = telemetry.NewMetrics()
	if addr := a.cfg.Metrics.Listen; addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, addr, a.logger); err != nil {
				a.logger.Error("Metrics listener failed", slog.String("addr", addr), slog.Any("error", err))
			}
		}()
	}

	return usecase.NewHarnessUseCase(adapter.NewDefaultRegistry(), a.repo, sinks, a.metrics, a.logger), nil
}

// Close releases everything loadApp and harness opened.
func (a *app) Close() {
	if a.influx != nil {
		a.influx.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}
