//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDBPath returns a temporary history database path.
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "history.db")
}

// WriteConfig writes a TOML config to a temp file and returns its path.
func WriteConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// WriteTaskList places a phase task list under dir and returns its
// repo-relative name.
func WriteTaskList(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing task list: %v", err)
	}
	return name
}
