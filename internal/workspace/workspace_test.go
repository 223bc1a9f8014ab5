package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
	"github.com/hochfrequenz/phase-orchestrator/internal/execx"
	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
)

func newTestManager(t *testing.T, fake *execx.Fake) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), t.TempDir(), "origin", "main", fake, logging.Discard())
}

func TestAcquireCreatesWorktreeFromRemoteTrunk(t *testing.T) {
	fake := &execx.Fake{}
	m := newTestManager(t, fake)

	ws, err := m.Acquire("phase/parser")
	if err != nil {
		t.Fatal(err)
	}

	if ws.Branch != "phase/parser" {
		t.Errorf("Branch = %q", ws.Branch)
	}
	if filepath.Base(ws.Path) != "phase-parser" {
		t.Errorf("workspace dir = %q, want sanitized branch name", ws.Path)
	}
	if fake.CallCount("git worktree add -b phase/parser") != 1 {
		t.Errorf("worktree add not invoked: %v", fake.Calls())
	}
	// Cleanup precedes creation: local and remote branch deletion.
	if fake.CallCount("git branch -D phase/parser") != 1 {
		t.Error("leftover local branch not deleted before acquire")
	}
	if fake.CallCount("git push origin --delete phase/parser") != 1 {
		t.Error("leftover remote branch not deleted before acquire")
	}
}

func TestAcquireFailureIsSetupError(t *testing.T) {
	fake := &execx.Fake{}
	fake.Respond("git worktree add", "fatal: already exists", os.ErrPermission)
	m := newTestManager(t, fake)

	_, err := m.Acquire("phase/parser")
	if err == nil {
		t.Fatal("expected error")
	}
	var se *domain.SetupError
	if !errors.As(err, &se) {
		t.Errorf("error %v is not a SetupError", err)
	}
}

func TestAcquireRemovesLeftoverDirectory(t *testing.T) {
	fake := &execx.Fake{}
	m := newTestManager(t, fake)

	leftover := m.pathFor("phase/parser")
	if err := os.MkdirAll(leftover, 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Acquire("phase/parser"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Error("leftover directory survived acquire")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	fake := &execx.Fake{}
	m := newTestManager(t, fake)

	ws, err := m.Acquire("phase/parser")
	if err != nil {
		t.Fatal(err)
	}

	m.Release(ws)
	first := fake.CallCount("git worktree remove")

	m.Release(ws)
	if got := fake.CallCount("git worktree remove"); got != first {
		t.Errorf("second Release ran worktree remove again (%d -> %d)", first, got)
	}
}

func TestReleaseToleratesFailures(t *testing.T) {
	fake := &execx.Fake{}
	fake.RespondAlways("git worktree remove", "error: not a worktree", os.ErrInvalid)
	fake.RespondAlways("git branch -D", "error: branch not found", os.ErrInvalid)
	m := newTestManager(t, fake)

	// Must not panic or abort on step failures.
	m.Release(&Workspace{Path: filepath.Join(t.TempDir(), "gone"), Branch: "phase/parser"})

	if fake.CallCount("git branch -D phase/parser") != 1 {
		t.Error("branch deletion skipped after earlier step failed")
	}
}

func TestReleaseNilIsSafe(t *testing.T) {
	m := newTestManager(t, &execx.Fake{})
	m.Release(nil)
}
