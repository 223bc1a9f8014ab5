// Package workspace manages isolated, branch-scoped working copies.
// Each phase owns exactly one workspace for its lifetime; at most one
// workspace exists per branch name at any time.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
	"github.com/hochfrequenz/phase-orchestrator/internal/execx"
	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
)

// Workspace is a directory + branch pair exclusively owned by the
// active phase.
type Workspace struct {
	Path   string
	Branch string

	released bool
}

// Manager creates and destroys workspaces backed by git worktrees.
type Manager struct {
	repoDir string
	workDir string
	remote  string
	trunk   string
	run     execx.Runner
	log     *logging.Logger
}

// NewManager creates a Manager rooted at the trunk checkout.
func NewManager(repoDir, workDir, remote, trunk string, run execx.Runner, log *logging.Logger) *Manager {
	return &Manager{
		repoDir: repoDir,
		workDir: workDir,
		remote:  remote,
		trunk:   trunk,
		run:     run,
		log:     log,
	}
}

// Acquire destroys any leftover workspace, local branch and remote
// branch with the same name, then creates a fresh worktree branched
// off the remote trunk. Creation failure is a SetupError; the
// orchestrator skips the phase on it.
func (m *Manager) Acquire(branch string) (*Workspace, error) {
	if err := os.MkdirAll(m.workDir, 0o755); err != nil {
		return nil, &domain.SetupError{Err: fmt.Errorf("creating workspace dir: %w", err)}
	}

	path := m.pathFor(branch)
	m.cleanup(path, branch)

	// Branch from the freshest trunk when a remote exists.
	base := m.remote + "/" + m.trunk
	if _, err := m.run.Run(m.repoDir, "git", "fetch", m.remote, m.trunk); err != nil {
		base = "HEAD"
	} else if _, err := m.run.Run(m.repoDir, "git", "rev-parse", "--verify", base); err != nil {
		base = "HEAD"
	}

	out, err := m.run.Run(m.repoDir, "git", "worktree", "add", "-b", branch, path, base)
	if err != nil {
		return nil, &domain.SetupError{Err: fmt.Errorf("git worktree add: %s: %w", out, err)}
	}

	m.log.Printf("workspace acquired: %s (branch %s)", path, branch)
	return &Workspace{Path: path, Branch: branch}, nil
}

// cleanup removes, in order, any same-named leftover directory, local
// branch and remote branch from an interrupted prior run. Every step
// is best-effort and individually logged; cleanup never short-circuits.
func (m *Manager) cleanup(path, branch string) {
	if _, err := os.Stat(path); err == nil {
		m.log.Printf("removing leftover workspace %s", path)
		if out, err := m.run.Run(m.repoDir, "git", "worktree", "remove", "--force", path); err != nil {
			m.log.Warnf("worktree remove: %s: %v", out, err)
		}
		if err := os.RemoveAll(path); err != nil {
			m.log.Warnf("removing %s: %v", path, err)
		}
	}
	if out, err := m.run.Run(m.repoDir, "git", "worktree", "prune"); err != nil {
		m.log.Warnf("worktree prune: %s: %v", out, err)
	}
	if out, err := m.run.Run(m.repoDir, "git", "branch", "-D", branch); err == nil {
		m.log.Printf("removed leftover local branch %s", branch)
	} else if len(out) > 0 && !strings.Contains(string(out), "not found") {
		m.log.Warnf("branch -D %s: %s", branch, out)
	}
	if _, err := m.run.Run(m.repoDir, "git", "push", m.remote, "--delete", branch); err == nil {
		m.log.Printf("removed leftover remote branch %s", branch)
	}
}

// Release destroys a workspace: directory, stale worktree metadata,
// local branch, remote branch. Best-effort throughout and safe to call
// twice; a partial release never blocks progress.
func (m *Manager) Release(ws *Workspace) {
	if ws == nil || ws.released {
		return
	}
	ws.released = true

	if out, err := m.run.Run(m.repoDir, "git", "worktree", "remove", "--force", ws.Path); err != nil {
		m.log.Warnf("worktree remove %s: %s: %v", ws.Path, out, err)
		if err := os.RemoveAll(ws.Path); err != nil {
			m.log.Warnf("removing %s: %v", ws.Path, err)
		}
	}
	if out, err := m.run.Run(m.repoDir, "git", "worktree", "prune"); err != nil {
		m.log.Warnf("worktree prune: %s: %v", out, err)
	}
	if out, err := m.run.Run(m.repoDir, "git", "branch", "-D", ws.Branch); err != nil {
		m.log.Warnf("branch -D %s: %s: %v", ws.Branch, out, err)
	}
	// The remote branch is usually gone already (merge deletes it).
	m.run.Run(m.repoDir, "git", "push", m.remote, "--delete", ws.Branch)

	m.log.Printf("workspace released: %s", ws.Path)
}

// pathFor returns the deterministic directory for a branch, so
// leftovers from interrupted runs are found again.
func (m *Manager) pathFor(branch string) string {
	return filepath.Join(m.workDir, strings.ReplaceAll(branch, "/", "-"))
}
