package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
)

// SettingsRepository persists the configuration as a YAML or JSON file,
// chosen by the file extension.
type SettingsRepository struct {
	configPath string
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(configPath string) *SettingsRepository {
	return &SettingsRepository{
		configPath: configPath,
	}
}

func (r *SettingsRepository) isYAML() bool {
	switch strings.ToLower(filepath.Ext(r.configPath)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// GetConfig loads the configuration. A missing file yields the defaults;
// keys absent from the file keep their default values.
func (r *SettingsRepository) GetConfig(ctx context.Context) (*config.Config, error) {
	data, err := os.ReadFile(r.configPath)
	if os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := config.DefaultConfig()
	if r.isYAML() {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", r.configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// SaveConfig validates and writes the configuration.
func (r *SettingsRepository) SaveConfig(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.configPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if r.isYAML() {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(r.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ResetToDefaults removes the file so the next load returns defaults.
func (r *SettingsRepository) ResetToDefaults(ctx context.Context) error {
	if err := os.Remove(r.configPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the configuration file path.
func (r *SettingsRepository) GetConfigPath() string {
	return r.configPath
}
