// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stonemason/stonemason/pkg/types"
)

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads configuration from a file, layers STONEMASON_* environment
// variables on top, and validates the result.
func (m *Manager) LoadConfig(path string) (*types.OrchestratorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}

	m.applyEnvironment(cfg)
	cfg.ApplyDefaults()

	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(config *types.OrchestratorConfig) error {
	if config.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %s", config.Version)
	}

	if config.Workers < 1 || config.Workers > 64 {
		return fmt.Errorf("workers must be between 1 and 64, got %d", config.Workers)
	}

	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	if config.TempDir != "" {
		info, err := os.Stat(config.TempDir)
		if err != nil {
			return fmt.Errorf("temp dir not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("temp dir is not a directory: %s", config.TempDir)
		}
	}

	return nil
}

// GetDefaultConfig returns a default configuration
func (m *Manager) GetDefaultConfig() *types.OrchestratorConfig {
	enabled := true

	cfg := &types.OrchestratorConfig{
		Notifications: &types.NotificationConfig{
			Enabled: &enabled,
		},
		Metrics: &types.MetricsConfig{
			Enabled:   true,
			Namespace: "stonemason",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// Private methods

// parse tries JSON first, then YAML routed through JSON so both formats share
// the same struct tags.
func parse(data []byte) (*types.OrchestratorConfig, error) {
	var cfg types.OrchestratorConfig

	if err := json.Unmarshal(data, &cfg); err == nil {
		return &cfg, nil
	}

	var yamlData map[string]interface{}
	if err := yaml.Unmarshal(data, &yamlData); err == nil {
		jsonData, err := json.Marshal(yamlData)
		if err == nil {
			if err := json.Unmarshal(jsonData, &cfg); err == nil {
				return &cfg, nil
			}
		}
	}

	return nil, fmt.Errorf("failed to parse config as JSON or YAML")
}

// applyEnvironment overrides file values with STONEMASON_* variables.
func (m *Manager) applyEnvironment(cfg *types.OrchestratorConfig) {
	v := viper.New()
	v.SetEnvPrefix("STONEMASON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if workers := v.GetInt("workers"); workers > 0 {
		cfg.Workers = workers
	}
	if tempDir := v.GetString("temp_dir"); tempDir != "" {
		cfg.TempDir = tempDir
	}
	if logLevel := v.GetString("log_level"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFile := v.GetString("log_file"); logFile != "" {
		cfg.LogFile = logFile
	}
}
