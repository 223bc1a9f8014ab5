//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hochfrequenz/phase-orchestrator/internal/agent"
	"github.com/hochfrequenz/phase-orchestrator/internal/ciwatch"
	"github.com/hochfrequenz/phase-orchestrator/internal/config"
	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
	"github.com/hochfrequenz/phase-orchestrator/internal/execx"
	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
	"github.com/hochfrequenz/phase-orchestrator/internal/mergectl"
	"github.com/hochfrequenz/phase-orchestrator/internal/review"
	"github.com/hochfrequenz/phase-orchestrator/internal/runstore"
	"github.com/hochfrequenz/phase-orchestrator/internal/workspace"
)

// TestConfigToHistoryFlow exercises the config and history layers
// together: a TOML file on disk through config.Load into a run recorded
// in the sqlite history store.
func TestConfigToHistoryFlow(t *testing.T) {
	dbPath := TempDBPath(t)
	configPath := WriteConfig(t, fmt.Sprintf(`
[general]
repo_root = "%s"
database_path = "%s"

[agent]
max_iterations = 4

[[phases]]
id = "parser"
branch = "phase/parser"
description = "Document parsers"
task_list = "tasks-parser.yaml"

[[phases]]
id = "render"
branch = "phase/render"
description = "PDF rendering"
task_list = "tasks-render.yaml"
max_iterations = 2
`, t.TempDir(), dbPath))

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Phases) != 2 {
		t.Fatalf("phases = %d, want 2", len(cfg.Phases))
	}
	if cfg.Phases[0].MaxIterations != 4 {
		t.Errorf("parser budget = %d, want inherited 4", cfg.Phases[0].MaxIterations)
	}
	if cfg.Phases[1].MaxIterations != 2 {
		t.Errorf("render budget = %d, want explicit 2", cfg.Phases[1].MaxIterations)
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		t.Fatalf("runstore.New: %v", err)
	}
	defer store.Close()

	runID := "run-itest"
	if err := store.StartRun(runID, "parser"); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordPhase(runID, domain.RunResult{
		PhaseID: "parser", Outcome: domain.OutcomeCompleted,
		CompletedTasks: 5, TotalTasks: 5, CommitCount: 7, PRNumber: 42, CIPassed: true,
		FinishedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordPhase(runID, domain.RunResult{
		PhaseID: "render", Outcome: domain.OutcomeSkipped, SkipReason: "zero implementation commits",
		FinishedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishRun(runID, 0); err != nil {
		t.Fatal(err)
	}

	outcome, _, err := store.LastOutcome("parser")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != domain.OutcomeCompleted {
		t.Errorf("parser outcome = %s, want completed", outcome)
	}
	outcome, reason, err := store.LastOutcome("render")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != domain.OutcomeSkipped || reason != "zero implementation commits" {
		t.Errorf("render outcome = %s (%s)", outcome, reason)
	}
}

// TestReviewThroughMergeFlow runs the post-agent half of a phase over
// stubbed commands: push, review creation, CI watch, merge and trunk
// sync, wired with the real components.
func TestReviewThroughMergeFlow(t *testing.T) {
	ws := &workspace.Workspace{Path: t.TempDir(), Branch: "phase/parser"}
	phase := domain.Phase{ID: "parser", Branch: "phase/parser", Description: "Document parsers", TaskList: "tasks-parser.yaml"}
	log := logging.Discard()

	fake := &execx.Fake{}
	fake.Respond("gh pr create", "https://github.com/acme/office2pdf/pull/7\n", nil)
	fake.RespondAlways("gh pr checks 7 --json",
		`[{"name":"build","bucket":"pass"},{"name":"test","bucket":"pass"},{"name":"lint","bucket":"pass"}]`, nil)

	gate := review.NewGate("origin", "main", time.Millisecond, fake, log)
	agentRunner := agent.NewRunner("claude", "origin", "main", "PROGRESS.md", nil, fake, log)
	watcher := ciwatch.New(ciwatch.Config{
		GracePeriod:          time.Millisecond,
		RegistrationRounds:   3,
		RegistrationInterval: time.Millisecond,
		MinCheckRuns:         3,
		WatchDeadline:        time.Second,
		LivenessTick:         time.Millisecond,
		MaxAttempts:          3,
		FormatCommand:        "make fmt",
	}, fake, agentRunner, gate, log)
	merger := mergectl.New(t.TempDir(), "origin", "main", "merge", "squash", fake, log)

	if err := gate.Push(context.Background(), ws); err != nil {
		t.Fatalf("Push: %v", err)
	}
	rev, err := gate.Open(ws, phase, 5, 5, "- [x] T01 parse docx")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if rev.Number != 7 {
		t.Fatalf("review number = %d, want 7", rev.Number)
	}

	res, err := watcher.Run(context.Background(), ws, rev.Number)
	if err != nil {
		t.Fatalf("CI watch: %v", err)
	}
	if !res.Passed() || res.Attempts != 1 {
		t.Fatalf("ci result = %+v, want pass on first attempt", res)
	}

	if err := merger.Merge(rev); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := merger.SyncTrunk([]string{phase.TaskList, "PROGRESS.md"}); err != nil {
		t.Fatalf("SyncTrunk: %v", err)
	}

	for _, cmd := range []string{
		"git push -u origin phase/parser",
		"gh pr create",
		"gh pr checks 7 --watch",
		"gh pr merge 7 --merge --delete-branch",
		"git pull",
	} {
		if fake.CallCount(cmd) != 1 {
			t.Errorf("%q invoked %d times, want 1\ntrace: %v", cmd, fake.CallCount(cmd), fake.Calls())
		}
	}
}
