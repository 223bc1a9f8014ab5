// Package agent invokes the external autonomous coding agent. The
// agent is a black box: it consumes a task list, mutates the workspace
// and creates commits. Its exit code is informational only and never
// aborts the orchestrator.
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hochfrequenz/phase-orchestrator/internal/execx"
	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
	"github.com/hochfrequenz/phase-orchestrator/internal/prompts"
	"github.com/hochfrequenz/phase-orchestrator/internal/tasklist"
	"github.com/hochfrequenz/phase-orchestrator/internal/workspace"
)

// Outcome summarizes one bounded agent run. Side effects (commits,
// task-list updates) are already in the workspace when Run returns.
type Outcome struct {
	Iterations int
	LastErr    error // last non-zero agent exit, informational only
}

// Runner drives the external coding agent for one phase.
type Runner struct {
	command      string
	remote       string
	trunk        string
	progressFile string
	prompts      *prompts.Loader
	run          execx.Runner
	log          *logging.Logger
}

// NewRunner creates a Runner for the given agent command. A nil loader
// falls back to the embedded prompt templates.
func NewRunner(command, remote, trunk, progressFile string, loader *prompts.Loader, run execx.Runner, log *logging.Logger) *Runner {
	if loader == nil {
		loader = prompts.NewLoader()
	}
	return &Runner{command: command, remote: remote, trunk: trunk, progressFile: progressFile, prompts: loader, run: run, log: log}
}

// Run invokes the agent up to maxIterations times against the phase
// task list, stopping early once every task is marked done on disk.
// Agent failures are logged and tolerated: the attempt produced
// whatever commits it produced. A cancelled ctx stops the loop before
// the next iteration launches; the caller maps it to the interrupt exit.
func (r *Runner) Run(ctx context.Context, ws *workspace.Workspace, taskListPath string, maxIterations int) Outcome {
	var out Outcome
	listPath := filepath.Join(ws.Path, taskListPath)

	for i := 1; i <= maxIterations; i++ {
		if ctx.Err() != nil {
			r.log.Warnf("interrupted after %d iteration(s), not launching another", i-1)
			break
		}
		if list, err := tasklist.Load(listPath); err == nil && list.AllDone() {
			r.log.Printf("all tasks complete after %d iteration(s)", i-1)
			break
		}

		out.Iterations = i
		r.log.Printf("agent iteration %d/%d", i, maxIterations)
		prompt, err := r.prompts.Iteration(prompts.IterationData{
			TaskListPath:  taskListPath,
			Iteration:     i,
			MaxIterations: maxIterations,
			ProgressFile:  r.progressFile,
		})
		if err != nil {
			out.LastErr = err
			r.log.Warnf("rendering iteration prompt: %v", err)
			break
		}
		if raw, err := r.run.Run(ws.Path, r.command, "--print", "--dangerously-skip-permissions", "-p", prompt); err != nil {
			out.LastErr = err
			r.log.Warnf("agent exited non-zero on iteration %d: %v: %s", i, err, tail(raw, 400))
		}
	}

	return out
}

// FixLint invokes the agent once with a narrowly scoped remediation
// instruction. Used by the CI auto-fix loop for lint failures.
func (r *Runner) FixLint(ws *workspace.Workspace, checkSummary string) error {
	prompt, err := r.prompts.LintFix(prompts.LintFixData{CheckSummary: checkSummary})
	if err != nil {
		return err
	}

	raw, err := r.run.Run(ws.Path, r.command, "--print", "--dangerously-skip-permissions", "-p", prompt)
	if err != nil {
		return fmt.Errorf("agent lint fix: %v: %s", err, tail(raw, 400))
	}
	return nil
}

// CommitCount returns the number of commits on the branch head that
// are not on the remote trunk.
func (r *Runner) CommitCount(ws *workspace.Workspace) (int, error) {
	out, err := r.run.Run(ws.Path, "git", "rev-list", "--count", r.remote+"/"+r.trunk+"..HEAD")
	if err != nil {
		// No remote trunk ref yet; count against the local trunk.
		out, err = r.run.Run(ws.Path, "git", "rev-list", "--count", r.trunk+"..HEAD")
		if err != nil {
			return 0, fmt.Errorf("git rev-list: %s: %w", out, err)
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parsing commit count %q: %w", out, err)
	}
	return n, nil
}

// Counts re-reads completion state from the task list on disk, the
// source of truth after an agent run.
func (r *Runner) Counts(ws *workspace.Workspace, taskListPath string) (done, total int, err error) {
	list, err := tasklist.Load(filepath.Join(ws.Path, taskListPath))
	if err != nil {
		return 0, 0, err
	}
	done, total = list.Counts()
	return done, total, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
