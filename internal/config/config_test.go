package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.Remote != "origin" || cfg.General.Trunk != "main" {
		t.Errorf("got remote=%q trunk=%q", cfg.General.Remote, cfg.General.Trunk)
	}
	if cfg.CI.MaxAttempts != 3 {
		t.Errorf("got max_attempts=%d, want 3", cfg.CI.MaxAttempts)
	}
	if cfg.CI.WatchDeadline() != 30*time.Minute {
		t.Errorf("got watch deadline %v, want 30m", cfg.CI.WatchDeadline())
	}
	if cfg.CI.GracePeriod() != 30*time.Second {
		t.Errorf("got grace period %v, want 30s", cfg.CI.GracePeriod())
	}
}

func TestLoadPhases(t *testing.T) {
	path := writeConfig(t, `
[general]
trunk = "master"

[agent]
command = "claude"
max_iterations = 7

[[phases]]
id = "parser"
branch = "phase/parser"
description = "Document parsers"
task_list = "tasks/parser.yaml"

[[phases]]
id = "render"
branch = "phase/render"
description = "PDF rendering"
max_iterations = 12
task_list = "tasks/render.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Phases) != 2 {
		t.Fatalf("got %d phases, want 2", len(cfg.Phases))
	}
	if cfg.General.Trunk != "master" {
		t.Errorf("got trunk=%q, want master", cfg.General.Trunk)
	}
	// Unset budget inherits the agent default; explicit one is kept.
	if cfg.Phases[0].MaxIterations != 7 {
		t.Errorf("parser max_iterations = %d, want 7", cfg.Phases[0].MaxIterations)
	}
	if cfg.Phases[1].MaxIterations != 12 {
		t.Errorf("render max_iterations = %d, want 12", cfg.Phases[1].MaxIterations)
	}
}

func TestLoadRejectsDuplicateBranches(t *testing.T) {
	path := writeConfig(t, `
[[phases]]
id = "a"
branch = "phase/shared"

[[phases]]
id = "b"
branch = "phase/shared"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate branch names")
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Errorf("ExpandPath(~/x/y) = %q", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandPath(/abs/path) = %q", got)
	}
}
