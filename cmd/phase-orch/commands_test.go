package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hochfrequenz/phase-orchestrator/internal/config"
	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
	"github.com/hochfrequenz/phase-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/phase-orchestrator/internal/runstore"
)

func TestExecuteRunRejectsUnknownPhaseBeforeRecording(t *testing.T) {
	cfg := config.Default()
	cfg.Phases = []domain.Phase{
		{ID: "parser", Branch: "phase/parser", TaskList: "tasks-parser.yaml"},
	}
	store, err := runstore.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	orch := orchestrator.New(cfg, orchestrator.Deps{})

	err = executeRun(context.Background(), cfg, orch, store, "ghost", 0)
	if err == nil || !strings.Contains(err.Error(), "unknown phase") {
		t.Fatalf("err = %v, want unknown phase", err)
	}

	runs, err := store.LatestRuns(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("recorded %d run(s) for a rejected start phase, want none", len(runs))
	}
}

func TestParsePositionals(t *testing.T) {
	phase, iters, err := parsePositionals([]string{"parser", "7"})
	if err != nil {
		t.Fatal(err)
	}
	if phase != "parser" || iters != 7 {
		t.Errorf("got (%q, %d), want (parser, 7)", phase, iters)
	}

	if _, _, err := parsePositionals([]string{"parser", "zero"}); err == nil {
		t.Error("expected error for a non-numeric iteration count")
	}
}
