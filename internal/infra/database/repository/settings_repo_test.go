// Package repository provides unit tests for settings repository.
package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/stats"
)

// setupSettingsTestPath returns a config path inside a temp directory.
func setupSettingsTestPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "conf", name)
}

// TestSettingsRepository_GetConfig_Default tests getting default config.
func TestSettingsRepository_GetConfig_Default(t *testing.T) {
	ctx := context.Background()
	repo := NewSettingsRepository(setupSettingsTestPath(t, "schedbench.yaml"))

	cfg, err := repo.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig() failed: %v", err)
	}

	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Storage.Path == "" {
		t.Error("Storage path should not be empty in default config")
	}
	if cfg.Scheduler.Name != "RoundRobinSched" {
		t.Errorf("Scheduler.Name = %q, want RoundRobinSched", cfg.Scheduler.Name)
	}
}

// TestSettingsRepository_SaveConfig tests round trips in both formats.
func TestSettingsRepository_SaveConfig(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"yaml", "schedbench.yaml"},
		{"yml", "schedbench.yml"},
		{"json", "schedbench.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			path := setupSettingsTestPath(t, tt.file)
			repo := NewSettingsRepository(path)

			cfg := config.DefaultConfig()
			cfg.Scheduler.Name = "IOPrioSched"
			cfg.Scheduler.Flags = []string{"--slice_time=20000000"}
			cfg.Protocol.Fields = []stats.FieldSpec{{Name: "Slice usage", Kind: stats.FieldFloat}}
			cfg.Advanced.LogLevel = "debug"

			if err := repo.SaveConfig(ctx, cfg); err != nil {
				t.Fatalf("SaveConfig() failed: %v", err)
			}
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("Config file was not created: %v", err)
			}

			loaded, err := NewSettingsRepository(path).GetConfig(ctx)
			if err != nil {
				t.Fatalf("GetConfig() after save failed: %v", err)
			}
			if loaded.Scheduler.Name != "IOPrioSched" {
				t.Errorf("Scheduler.Name = %q", loaded.Scheduler.Name)
			}
			if len(loaded.Scheduler.Flags) != 1 || loaded.Scheduler.Flags[0] != "--slice_time=20000000" {
				t.Errorf("Scheduler.Flags = %v", loaded.Scheduler.Flags)
			}
			if len(loaded.Protocol.Fields) != 1 || loaded.Protocol.Fields[0].Kind != stats.FieldFloat {
				t.Errorf("Protocol.Fields = %v", loaded.Protocol.Fields)
			}
			if loaded.Advanced.LogLevel != "debug" {
				t.Errorf("LogLevel = %s, want debug", loaded.Advanced.LogLevel)
			}
		})
	}
}

// TestSettingsRepository_GetConfig_Partial tests that absent keys keep defaults.
func TestSettingsRepository_GetConfig_Partial(t *testing.T) {
	ctx := context.Background()
	path := setupSettingsTestPath(t, "schedbench.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	doc := "scheduler:\n  adapter: none\nbenchmark:\n  iterations: 5\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewSettingsRepository(path).GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig() failed: %v", err)
	}
	if cfg.Scheduler.Enabled() {
		t.Error("scheduler should be disabled")
	}
	if cfg.Benchmark.Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", cfg.Benchmark.Iterations)
	}
	if cfg.Benchmark.Jar != "renaissance-gpl-0.16.0.jar" {
		t.Errorf("Jar = %q, want default", cfg.Benchmark.Jar)
	}
	if cfg.Advanced.RefreshIntervalMS != 250 {
		t.Errorf("RefreshIntervalMS = %d, want 250", cfg.Advanced.RefreshIntervalMS)
	}
}

// TestSettingsRepository_GetConfig_Invalid tests that bad files are rejected.
func TestSettingsRepository_GetConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		invalid bool
	}{
		{"malformed yaml", "c.yaml", "scheduler: [", false},
		{"malformed json", "c.json", "{", false},
		{"failed validation", "c.yaml", "advanced:\n  refresh_interval_ms: 1\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := setupSettingsTestPath(t, tt.file)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := NewSettingsRepository(path).GetConfig(context.Background())
			if err == nil {
				t.Fatal("GetConfig() should fail")
			}
			if got := errors.Is(err, config.ErrInvalidConfiguration); got != tt.invalid {
				t.Errorf("errors.Is(ErrInvalidConfiguration) = %v, want %v (%v)", got, tt.invalid, err)
			}
		})
	}
}

// TestSettingsRepository_SaveConfig_Invalid tests saving invalid config.
func TestSettingsRepository_SaveConfig_Invalid(t *testing.T) {
	ctx := context.Background()
	path := setupSettingsTestPath(t, "schedbench.yaml")
	repo := NewSettingsRepository(path)

	cfg := &config.Config{
		Version: 999,
	}

	if err := repo.SaveConfig(ctx, cfg); err == nil {
		t.Error("SaveConfig() with invalid config should fail")
	}
	if _, err := os.Stat(path); err == nil {
		t.Error("Config file should not be created for invalid config")
	}
}

// TestSettingsRepository_ResetToDefaults tests resetting to defaults.
func TestSettingsRepository_ResetToDefaults(t *testing.T) {
	ctx := context.Background()
	path := setupSettingsTestPath(t, "schedbench.json")
	repo := NewSettingsRepository(path)

	cfg := config.DefaultConfig()
	cfg.Reports.OutputDir = "results"
	if err := repo.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveConfig() failed: %v", err)
	}

	if err := repo.ResetToDefaults(ctx); err != nil {
		t.Fatalf("ResetToDefaults() failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Config file should be deleted after reset")
	}
	// Resetting twice is fine.
	if err := repo.ResetToDefaults(ctx); err != nil {
		t.Errorf("second ResetToDefaults() failed: %v", err)
	}

	loaded, err := repo.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig() after reset failed: %v", err)
	}
	if loaded.Reports.OutputDir != "zdata" {
		t.Errorf("OutputDir after reset = %s, want zdata", loaded.Reports.OutputDir)
	}
	if repo.GetConfigPath() != path {
		t.Errorf("GetConfigPath() = %s", repo.GetConfigPath())
	}
}
