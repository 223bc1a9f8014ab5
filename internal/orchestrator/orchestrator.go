// Package orchestrator drives phases through the pipeline: workspace
// setup, agent run, review, CI watch, merge and trunk sync. Phases are
// strictly sequential; one phase's failure skips it and moves on, it
// never aborts the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/phase-orchestrator/internal/agent"
	"github.com/hochfrequenz/phase-orchestrator/internal/ciwatch"
	"github.com/hochfrequenz/phase-orchestrator/internal/config"
	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
	"github.com/hochfrequenz/phase-orchestrator/internal/execx"
	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
	"github.com/hochfrequenz/phase-orchestrator/internal/observer"
	"github.com/hochfrequenz/phase-orchestrator/internal/review"
	"github.com/hochfrequenz/phase-orchestrator/internal/tasklist"
	"github.com/hochfrequenz/phase-orchestrator/internal/workspace"
)

// Workspaces manages the lifecycle of phase working copies.
type Workspaces interface {
	Acquire(branch string) (*workspace.Workspace, error)
	Release(ws *workspace.Workspace)
}

// Agent runs the external coding agent and inspects its side effects.
type Agent interface {
	Run(ctx context.Context, ws *workspace.Workspace, taskListPath string, maxIterations int) agent.Outcome
	CommitCount(ws *workspace.Workspace) (int, error)
	Counts(ws *workspace.Workspace, taskListPath string) (done, total int, err error)
}

// Gate pushes the branch and opens its review request.
type Gate interface {
	Push(ctx context.Context, ws *workspace.Workspace) error
	Open(ws *workspace.Workspace, phase domain.Phase, done, total int, checklist string) (review.Review, error)
}

// CIWatcher supervises check runs for an open review.
type CIWatcher interface {
	Run(ctx context.Context, ws *workspace.Workspace, prNumber int) (ciwatch.Result, error)
}

// Merger lands the review and synchronizes the trunk checkout.
type Merger interface {
	Merge(rev review.Review) error
	SyncTrunk(scratchPaths []string) error
}

// Recorder persists per-phase results for the run history.
type Recorder interface {
	RecordPhase(runID string, res domain.RunResult) error
}

// Notifier announces phase and run outcomes out of band.
type Notifier interface {
	PhaseFinished(res domain.RunResult)
	RunFinished(results []domain.RunResult)
}

// Deps bundles the orchestrator's collaborators. Recorder and Notifier
// are optional.
type Deps struct {
	Workspaces Workspaces
	Agent      Agent
	Gate       Gate
	CI         CIWatcher
	Merger     Merger
	Runner     execx.Runner
	Log        *logging.Logger
	Bus        *observer.Bus
	Recorder   Recorder
	Notifier   Notifier
}

// Orchestrator runs phases in fixed order from a caller-chosen start.
type Orchestrator struct {
	cfg   *config.Config
	d     Deps
	runID string

	results []domain.RunResult
	current *workspace.Workspace
	started time.Time
}

// New creates an Orchestrator for the configured phase list.
func New(cfg *config.Config, d Deps) *Orchestrator {
	if d.Log == nil {
		d.Log = logging.Discard()
	}
	return &Orchestrator{cfg: cfg, d: d, runID: uuid.NewString()}
}

// RunID identifies this run in the history store.
func (o *Orchestrator) RunID() string { return o.runID }

// Results returns the per-phase outcomes recorded so far.
func (o *Orchestrator) Results() []domain.RunResult { return o.results }

// Run drives all phases from startID (or the first phase when empty).
// maxIterations, when positive, overrides every phase's iteration
// budget. It returns domain.ErrInterrupted on external interrupt; the
// active workspace is then deliberately left in place for manual
// recovery.
func (o *Orchestrator) Run(ctx context.Context, startID string, maxIterations int) error {
	start := 0
	if startID != "" {
		start = domain.FindPhase(o.cfg.Phases, startID)
		if start == -1 {
			return fmt.Errorf("unknown phase %q", startID)
		}
	}

	o.started = time.Now()
	o.d.Log.Printf("run %s: %d phase(s), starting at %s", o.runID, len(o.cfg.Phases)-start, o.cfg.Phases[start].ID)

	for _, phase := range o.cfg.Phases[start:] {
		if maxIterations > 0 {
			phase.MaxIterations = maxIterations
		}

		res, err := o.runPhase(ctx, phase)
		if errors.Is(err, domain.ErrInterrupted) {
			o.logRecoveryHint()
			return domain.ErrInterrupted
		}
		if err != nil {
			res = domain.Skipped(phase.ID, skipReason(err))
			o.d.Log.Warnf("phase %s skipped: %s", phase.ID, res.SkipReason)
		}
		o.finishPhase(res)
	}

	o.summarize()
	if o.d.Notifier != nil {
		o.d.Notifier.RunFinished(o.results)
	}
	return nil
}

// ExitCode implements the run exit policy: 1 only when every attempted
// phase was skipped, 0 otherwise.
func (o *Orchestrator) ExitCode() int {
	if len(o.results) == 0 {
		return 0
	}
	for _, r := range o.results {
		if r.Completed() {
			return 0
		}
	}
	return 1
}

// runPhase takes one phase through the full pipeline. Any returned
// error skips the phase; ErrInterrupted aborts the run.
func (o *Orchestrator) runPhase(ctx context.Context, phase domain.Phase) (domain.RunResult, error) {
	var res domain.RunResult
	res.PhaseID = phase.ID

	if err := ctx.Err(); err != nil {
		return res, domain.ErrInterrupted
	}

	o.d.Log.Printf("=== phase %s: %s ===", phase.ID, phase.Description)
	o.d.Bus.Publish(observer.Event{Kind: observer.KindPhaseStarted, PhaseID: phase.ID, Message: phase.Description})

	ws, err := o.d.Workspaces.Acquire(phase.Branch)
	if err != nil {
		return res, err
	}
	o.current = ws
	defer func() {
		// The workspace survives only an interrupt; every other exit
		// path releases it.
		if ctx.Err() == nil {
			o.d.Workspaces.Release(ws)
			o.current = nil
		}
	}()

	if err := o.seed(ws, phase); err != nil {
		return res, err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if o.d.Bus != nil {
		tw := observer.NewTaskWatcher(o.d.Bus, phase.ID, filepath.Join(ws.Path, phase.TaskList))
		go tw.Run(watchCtx)
	}

	o.d.Bus.Publish(observer.Event{Kind: observer.KindAgentRunning, PhaseID: phase.ID})
	outcome := o.d.Agent.Run(ctx, ws, phase.TaskList, phase.MaxIterations)
	if outcome.LastErr != nil {
		o.d.Log.Warnf("agent finished with errors after %d iteration(s): %v", outcome.Iterations, outcome.LastErr)
	}
	if err := ctx.Err(); err != nil {
		return res, domain.ErrInterrupted
	}

	// Task state is read back from disk, not from the agent.
	res.CompletedTasks, res.TotalTasks, err = o.d.Agent.Counts(ws, phase.TaskList)
	if err != nil {
		o.d.Log.Warnf("reading task list: %v", err)
	}

	res.CommitCount, err = o.d.Agent.CommitCount(ws)
	if err != nil {
		return res, domain.SkipWrap("commit count unavailable", err)
	}
	if res.CommitCount <= 1 {
		return res, domain.Skipf("zero implementation commits")
	}

	if err := o.d.Gate.Push(ctx, ws); err != nil {
		return res, err
	}
	rev, err := o.d.Gate.Open(ws, phase, res.CompletedTasks, res.TotalTasks, o.checklist(ws, phase))
	if err != nil {
		return res, err
	}
	res.PRNumber = rev.Number

	ciRes, err := o.d.CI.Run(ctx, ws, rev.Number)
	if err != nil {
		return res, err
	}
	res.CIPassed = ciRes.Passed()
	o.d.Bus.Publish(observer.Event{Kind: observer.KindCIState, PhaseID: phase.ID, Message: string(ciRes.State)})
	if !res.CIPassed {
		// Merge anyway: CI is advisory, its outcome only recorded.
		o.d.Log.Warnf("ci ended %s after %d attempt(s), merging anyway", ciRes.State, ciRes.Attempts)
	}

	if err := o.d.Merger.Merge(rev); err != nil {
		return res, err
	}
	if err := o.d.Merger.SyncTrunk([]string{phase.TaskList, o.cfg.General.ProgressFile}); err != nil {
		return res, err
	}

	res.Outcome = domain.OutcomeCompleted
	res.FinishedAt = time.Now()
	return res, nil
}

// seed places the phase task list and a fresh progress record in the
// workspace and commits them as the phase-setup commit. The progress
// record carries the previous phase's reusable-patterns block verbatim.
func (o *Orchestrator) seed(ws *workspace.Workspace, phase domain.Phase) error {
	listDst := filepath.Join(ws.Path, phase.TaskList)
	if _, err := os.Stat(listDst); err != nil {
		src := filepath.Join(o.cfg.General.RepoRoot, phase.TaskList)
		data, err := os.ReadFile(src)
		if err != nil {
			return domain.SkipWrap("task list missing", err)
		}
		if err := os.MkdirAll(filepath.Dir(listDst), 0o755); err != nil {
			return domain.SkipWrap("seeding task list", err)
		}
		if err := os.WriteFile(listDst, data, 0o644); err != nil {
			return domain.SkipWrap("seeding task list", err)
		}
	}

	prev := filepath.Join(o.cfg.General.RepoRoot, o.cfg.General.ProgressFile)
	next := filepath.Join(ws.Path, o.cfg.General.ProgressFile)
	if err := tasklist.SeedProgress(prev, next, phase.ID, phase.Description); err != nil {
		return domain.SkipWrap("seeding progress record", err)
	}

	if out, err := o.d.Runner.Run(ws.Path, "git", "add", "-A"); err != nil {
		o.d.Log.Warnf("git add: %s: %v", out, err)
	}
	if out, err := o.d.Runner.Run(ws.Path, "git", "commit", "-m", fmt.Sprintf("Seed %s phase state", phase.ID)); err != nil {
		// Nothing to commit happens when the seeded state is already tracked.
		o.d.Log.Printf("setup commit skipped: %s", out)
	}
	return nil
}

func (o *Orchestrator) checklist(ws *workspace.Workspace, phase domain.Phase) string {
	list, err := tasklist.Load(filepath.Join(ws.Path, phase.TaskList))
	if err != nil {
		return ""
	}
	return list.Checklist()
}

// finishPhase records one phase outcome everywhere it is consumed.
func (o *Orchestrator) finishPhase(res domain.RunResult) {
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}
	o.results = append(o.results, res)

	msg := string(res.Outcome)
	if res.SkipReason != "" {
		msg += ": " + res.SkipReason
	}
	o.d.Bus.Publish(observer.Event{
		Kind:    observer.KindPhaseFinished,
		PhaseID: res.PhaseID,
		Message: msg,
		Done:    res.CompletedTasks,
		Total:   res.TotalTasks,
	})
	if o.d.Recorder != nil {
		if err := o.d.Recorder.RecordPhase(o.runID, res); err != nil {
			o.d.Log.Warnf("recording phase result: %v", err)
		}
	}
	if o.d.Notifier != nil {
		o.d.Notifier.PhaseFinished(res)
	}
}

// logRecoveryHint tells the operator where the interrupted phase's
// state lives. No cleanup runs on interrupt.
func (o *Orchestrator) logRecoveryHint() {
	if o.current != nil {
		o.d.Log.Warnf("interrupted; workspace left at %s (branch %s) for manual recovery", o.current.Path, o.current.Branch)
	} else {
		o.d.Log.Warnf("interrupted between phases; no workspace to recover")
	}
}

func (o *Orchestrator) summarize() {
	completed := 0
	var skippedIDs []string
	for _, r := range o.results {
		if r.Completed() {
			completed++
		} else {
			skippedIDs = append(skippedIDs, r.PhaseID)
		}
	}
	skipped := len(skippedIDs)
	o.d.Log.Printf("run %s finished in %s: %d completed, %d skipped", o.runID, time.Since(o.started).Round(time.Second), completed, skipped)
	if skipped > 0 {
		o.d.Log.Printf("completed %d/%d phases, skipped: %s", completed, len(o.results), strings.Join(skippedIDs, " "))
	} else {
		o.d.Log.Printf("completed %d/%d phases", completed, len(o.results))
	}
	for _, r := range o.results {
		if r.Completed() {
			o.d.Log.Printf("  %-12s completed  tasks %d/%d  commits %d  pr #%d  ci passed %v",
				r.PhaseID, r.CompletedTasks, r.TotalTasks, r.CommitCount, r.PRNumber, r.CIPassed)
		} else {
			o.d.Log.Printf("  %-12s skipped    %s", r.PhaseID, r.SkipReason)
		}
	}
	if skipped > 0 {
		if i := o.firstSkippedIndex(); i != -1 {
			o.d.Log.Printf("resume with: phase-orch run %s", o.results[i].PhaseID)
		}
	}
	o.d.Bus.Publish(observer.Event{Kind: observer.KindRunFinished, Message: fmt.Sprintf("%d completed, %d skipped", completed, skipped)})
}

func (o *Orchestrator) firstSkippedIndex() int {
	for i, r := range o.results {
		if !r.Completed() {
			return i
		}
	}
	return -1
}

// skipReason renders any pipeline error as a skip reason.
func skipReason(err error) string {
	if skip, ok := domain.AsSkip(err); ok {
		return skip.Reason
	}
	var setup *domain.SetupError
	if errors.As(err, &setup) {
		return "workspace setup failed: " + setup.Err.Error()
	}
	return err.Error()
}
