// Package ciwatch supervises the CI status of a review request: it
// waits for check runs to register, watches them under a wall-clock
// deadline, classifies failures and drives the bounded auto-fix loop.
//
// CI never fails the run. Whatever the final state, the phase proceeds
// to merge ("merge anyway"); the outcome is advisory and logged.
package ciwatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
	"github.com/hochfrequenz/phase-orchestrator/internal/execx"
	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
	"github.com/hochfrequenz/phase-orchestrator/internal/workspace"
)

// Remediator applies the lint auto-fix: a narrowly scoped invocation
// of the coding agent.
type Remediator interface {
	FixLint(ws *workspace.Workspace, checkSummary string) error
}

// Pusher pushes the workspace branch after a remediation commit.
type Pusher interface {
	Push(ctx context.Context, ws *workspace.Workspace) error
}

// Config holds the watch-loop timings. Zero values are not defaulted
// here; callers pass the configured (or standard) values.
type Config struct {
	GracePeriod          time.Duration // wait before the first registration poll
	RegistrationRounds   int           // bounded polls for check-run registration
	RegistrationInterval time.Duration
	MinCheckRuns         int // proceed once this many checks are registered
	WatchDeadline        time.Duration
	LivenessTick         time.Duration
	MaxAttempts          int
	FormatCommand        string // formatter run-and-commit remediation
}

// Result is the final outcome of the attempt loop for one review.
type Result struct {
	State    domain.CIState
	Attempts int
}

// Passed reports whether the watch ended with all checks green.
func (r Result) Passed() bool { return r.State == domain.CIPassed }

// Watcher runs the CI watch state machine.
type Watcher struct {
	cfg        Config
	run        execx.Runner
	log        *logging.Logger
	remediator Remediator
	pusher     Pusher

	// OnState, when set, observes every state change of the attempt
	// loop (for the event stream and TUI).
	OnState func(attempt int, state domain.CIState)
}

// New creates a Watcher.
func New(cfg Config, run execx.Runner, remediator Remediator, pusher Pusher, log *logging.Logger) *Watcher {
	return &Watcher{cfg: cfg, run: run, remediator: remediator, pusher: pusher, log: log}
}

// Run drives up to MaxAttempts watch attempts for the review. A timed
// out watch aborts the remaining attempts immediately. The returned
// error is non-nil only when ctx was cancelled; the watcher kills and
// awaits the live watch process before returning in that case.
func (w *Watcher) Run(ctx context.Context, ws *workspace.Workspace, prNumber int) (Result, error) {
	res := Result{State: domain.CIFailed}

	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt
		w.setState(attempt, domain.CIRegistering)
		w.log.Printf("ci attempt %d/%d: waiting for check runs on #%d", attempt, w.cfg.MaxAttempts, prNumber)

		if err := w.awaitRegistration(ctx, ws, prNumber); err != nil {
			return res, err
		}

		w.setState(attempt, domain.CIWatching)
		state, raw, err := w.superviseWatch(ctx, ws, prNumber)
		if err != nil {
			return res, err
		}
		res.State = state
		w.setState(attempt, state)

		switch state {
		case domain.CIPassed:
			w.log.Printf("ci attempt %d: all checks passed", attempt)
			return res, nil
		case domain.CITimedOut:
			// No further attempts; proceed straight to merge-anyway.
			w.log.Warnf("ci attempt %d: watch exceeded %s, giving up on CI", attempt, w.cfg.WatchDeadline)
			return res, nil
		}

		w.log.Warnf("ci attempt %d: checks failed", attempt)
		if attempt == w.cfg.MaxAttempts {
			break
		}

		fixed, err := w.autoFix(ctx, ws, prNumber, raw)
		if err != nil {
			return res, err
		}
		if fixed {
			w.log.Printf("ci attempt %d: remediation pushed, retrying", attempt)
		} else {
			w.log.Printf("ci attempt %d: nothing auto-fixable, retrying watch", attempt)
		}
	}

	return res, nil
}

// awaitRegistration waits the grace period, then polls a bounded
// number of rounds until enough check runs are registered. Running out
// of rounds is not an error; the watch proceeds with whatever is there.
func (w *Watcher) awaitRegistration(ctx context.Context, ws *workspace.Workspace, prNumber int) error {
	if err := sleepCtx(ctx, w.cfg.GracePeriod); err != nil {
		return domain.ErrInterrupted
	}
	for round := 0; round < w.cfg.RegistrationRounds; round++ {
		checks, err := w.listChecks(ws, prNumber)
		if err == nil && len(checks) >= w.cfg.MinCheckRuns {
			return nil
		}
		if err != nil {
			w.log.Warnf("listing check runs: %v", err)
		}
		if err := sleepCtx(ctx, w.cfg.RegistrationInterval); err != nil {
			return domain.ErrInterrupted
		}
	}
	w.log.Warnf("fewer than %d check runs registered, watching anyway", w.cfg.MinCheckRuns)
	return nil
}

// superviseWatch launches the background check watch and polls its
// liveness under the wall-clock deadline. On deadline expiry the
// watcher is forcibly terminated. At most one watch process is live at
// a time and it is always terminated before this returns.
func (w *Watcher) superviseWatch(ctx context.Context, ws *workspace.Workspace, prNumber int) (domain.CIState, string, error) {
	h, err := w.run.Start(ws.Path, "gh", "pr", "checks", strconv.Itoa(prNumber), "--watch")
	if err != nil {
		return domain.CIFailed, "", nil // treated as a failed attempt
	}

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	ticker := time.NewTicker(w.cfg.LivenessTick)
	defer ticker.Stop()
	deadline := time.NewTimer(w.cfg.WatchDeadline)
	defer deadline.Stop()

	for {
		select {
		case err := <-done:
			raw := string(h.CombinedOutput())
			if err == nil {
				return domain.CIPassed, raw, nil
			}
			return domain.CIFailed, raw, nil

		case <-deadline.C:
			h.Kill()
			<-done
			return domain.CITimedOut, string(h.CombinedOutput()), nil

		case <-ctx.Done():
			// Interrupt: terminate the watch and wait for it before
			// handing control back for the 130 exit.
			h.Kill()
			<-done
			return domain.CIFailed, "", domain.ErrInterrupted

		case <-ticker.C:
			// Liveness poll; the select arms above carry the real work.
		}
	}
}

// autoFix applies the known remediations for the classified failure
// and pushes if anything was actually committed. A failed push (after
// its built-in retry) falls through to the next attempt unremediated.
func (w *Watcher) autoFix(ctx context.Context, ws *workspace.Workspace, prNumber int, raw string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.ErrInterrupted
	}

	checks, err := w.listChecks(ws, prNumber)
	if err != nil {
		w.log.Warnf("listing check runs for classification: %v", err)
	}
	classes := Classify(checks, raw)
	if len(classes) == 0 {
		return false, nil
	}

	before := w.head(ws)
	for _, class := range classes {
		switch class {
		case domain.FailureFormat:
			w.fixFormat(ws)
		case domain.FailureLint:
			if err := w.remediator.FixLint(ws, summaryTail(raw)); err != nil {
				w.log.Warnf("lint remediation: %v", err)
			}
		}
	}

	if w.head(ws) == before {
		return false, nil
	}
	if err := w.pusher.Push(ctx, ws); err != nil {
		w.log.Warnf("pushing remediation: %v", err)
		return false, nil
	}
	return true, nil
}

// fixFormat runs the configured formatter and commits the result.
func (w *Watcher) fixFormat(ws *workspace.Workspace) {
	fields := strings.Fields(w.cfg.FormatCommand)
	if len(fields) == 0 {
		return
	}
	if out, err := w.run.Run(ws.Path, fields[0], fields[1:]...); err != nil {
		w.log.Warnf("formatter: %s: %v", out, err)
		return
	}
	if out, err := w.run.Run(ws.Path, "git", "add", "-A"); err != nil {
		w.log.Warnf("git add: %s: %v", out, err)
		return
	}
	if out, err := w.run.Run(ws.Path, "git", "commit", "-m", "Fix formatting"); err != nil {
		// Nothing staged is the common case when the formatter was a no-op.
		w.log.Printf("formatter produced no changes: %s", strings.TrimSpace(string(out)))
	}
}

func (w *Watcher) listChecks(ws *workspace.Workspace, prNumber int) ([]CheckRun, error) {
	out, err := w.run.Run(ws.Path, "gh", "pr", "checks", strconv.Itoa(prNumber), "--json", "name,bucket")
	if err != nil {
		return nil, fmt.Errorf("gh pr checks: %s: %w", out, err)
	}
	return ParseCheckRuns(out)
}

func (w *Watcher) head(ws *workspace.Workspace) string {
	out, err := w.run.Run(ws.Path, "git", "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (w *Watcher) setState(attempt int, state domain.CIState) {
	if w.OnState != nil {
		w.OnState(attempt, state)
	}
}

// summaryTail bounds the check summary handed to the remediation
// prompt.
func summaryTail(raw string) string {
	const max = 2000
	s := strings.TrimSpace(raw)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
