// Package utils provides filesystem helpers for scratch trees
package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// Exists checks if a path exists
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CreateScratchDir creates a uniquely named scratch directory under base.
// An empty base falls back to the system temp directory.
func CreateScratchDir(base, prefix string) (string, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0755); err != nil {
			return "", fmt.Errorf("failed to create scratch base: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return dir, nil
}

// RemoveTree removes a directory and all contents
func RemoveTree(path string) error {
	if path == "" {
		return nil
	}
	return os.RemoveAll(path)
}

// WriteFileEnsuringDir writes data to path, creating parent directories and
// replacing any stale file already there.
func WriteFileEnsuringDir(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	_ = os.Remove(path)
	return os.WriteFile(path, data, 0644)
}

// FileURI converts an absolute or relative path into a file:// URI for the
// engine.
func FileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs)
}
