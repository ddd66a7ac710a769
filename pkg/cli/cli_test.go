package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateCommandAcceptsGoodConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stonemason.config.json")
	content := `{"version": "1.0", "workers": 4, "logLevel": "info"}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cmd := newValidateCmd()
	cmd.SetArgs([]string{path})
	if err := cmd.Execute(); err != nil {
		t.Errorf("Validate failed on a good config: %v", err)
	}
}

func TestValidateCommandRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stonemason.config.json")
	content := `{"version": "9.9"}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cmd := newValidateCmd()
	cmd.SetArgs([]string{path})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	if err := cmd.Execute(); err == nil {
		t.Error("Validate should fail on an unsupported version")
	}
}

func TestVersionCommand(t *testing.T) {
	version = "1.2.3"
	cmd := newVersionCmd()
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Errorf("Version command failed: %v", err)
	}
}
