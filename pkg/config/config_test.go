package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stonemason/stonemason/pkg/types"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfig(t, "stonemason.config.json", `{
		"version": "1.0",
		"workers": 4,
		"logLevel": "debug"
	}`)

	manager := NewManager()
	cfg, err := manager.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "stonemason.config.yaml", `
version: "1.0"
workers: 8
logLevel: warn
notifications:
  enabled: true
  successSound: Glass
`)

	manager := NewManager()
	cfg, err := manager.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.Notifications == nil || cfg.Notifications.SuccessSound != "Glass" {
		t.Errorf("Notifications not parsed: %+v", cfg.Notifications)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "minimal.json", `{"version": "1.0"}`)

	manager := NewManager()
	cfg, err := manager.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Workers != 2 {
		t.Errorf("Default workers = %d, want 2", cfg.Workers)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Default log level = %s, want info", cfg.LogLevel)
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("STONEMASON_WORKERS", "16")
	t.Setenv("STONEMASON_LOG_LEVEL", "error")

	path := writeConfig(t, "stonemason.config.json", `{"version": "1.0", "workers": 2}`)

	manager := NewManager()
	cfg, err := manager.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Workers != 16 {
		t.Errorf("Environment override ignored: workers = %d", cfg.Workers)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("Environment override ignored: logLevel = %s", cfg.LogLevel)
	}
}

func TestLoadConfigInvalidContent(t *testing.T) {
	path := writeConfig(t, "broken.json", `{not valid at all`)

	manager := NewManager()
	if _, err := manager.LoadConfig(path); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	manager := NewManager()
	if _, err := manager.LoadConfig("/nonexistent/stonemason.config.json"); err == nil {
		t.Fatal("Expected read error")
	}
}

func TestValidateConfig(t *testing.T) {
	manager := NewManager()

	tests := []struct {
		name    string
		mutate  func(*types.OrchestratorConfig)
		wantErr bool
	}{
		{
			name:    "valid default",
			mutate:  func(c *types.OrchestratorConfig) {},
			wantErr: false,
		},
		{
			name:    "bad version",
			mutate:  func(c *types.OrchestratorConfig) { c.Version = "2.0" },
			wantErr: true,
		},
		{
			name:    "too many workers",
			mutate:  func(c *types.OrchestratorConfig) { c.Workers = 256 },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(c *types.OrchestratorConfig) { c.LogLevel = "verbose" },
			wantErr: true,
		},
		{
			name:    "missing temp dir",
			mutate:  func(c *types.OrchestratorConfig) { c.TempDir = "/nonexistent/path" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := manager.GetDefaultConfig()
			tt.mutate(cfg)
			err := manager.ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := NewManager().GetDefaultConfig()

	if cfg.Version != "1.0" {
		t.Errorf("Version = %s", cfg.Version)
	}
	if cfg.Notifications == nil || cfg.Notifications.Enabled == nil || !*cfg.Notifications.Enabled {
		t.Error("Notifications should default to enabled")
	}
	if cfg.Metrics == nil || !cfg.Metrics.Enabled {
		t.Error("Metrics should default to enabled")
	}
	if err := NewManager().ValidateConfig(cfg); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}
