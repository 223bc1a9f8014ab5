// Package review pushes a phase branch and opens the review request
// that gates its merge into trunk.
package review

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
	"github.com/hochfrequenz/phase-orchestrator/internal/execx"
	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
	"github.com/hochfrequenz/phase-orchestrator/internal/workspace"
)

const bodyTemplate = `## Summary
%s

Tasks: %d/%d complete.

## Commits
%s

## Task Checklist
%s
---
Autonomous implementation by phase-orch
`

// maxTitleLen is the review title limit; longer titles are truncated
// with an ellipsis.
const maxTitleLen = 70

// maxCommitLines is how many one-line commit summaries the review
// body carries, oldest first.
const maxCommitLines = 30

// Review identifies an open review request.
type Review struct {
	Number int
	URL    string
}

// Gate handles push and review creation for a phase branch.
type Gate struct {
	remote  string
	trunk   string
	backoff time.Duration
	run     execx.Runner
	log     *logging.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewGate creates a Gate. backoff is the delay before the single push
// retry.
func NewGate(remote, trunk string, backoff time.Duration, run execx.Runner, log *logging.Logger) *Gate {
	return &Gate{
		remote:  remote,
		trunk:   trunk,
		backoff: backoff,
		run:     run,
		log:     log,
		sleep:   sleepCtx,
	}
}

// sleepCtx waits for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return domain.ErrInterrupted
	case <-t.C:
		return nil
	}
}

// Push pushes the workspace branch with one retry after a fixed
// backoff. Two consecutive failures fail the phase; a cancelled ctx
// cuts the backoff short.
func (g *Gate) Push(ctx context.Context, ws *workspace.Workspace) error {
	out, err := g.run.Run(ws.Path, "git", "push", "-u", g.remote, ws.Branch)
	if err == nil {
		return nil
	}
	g.log.Warnf("push failed, retrying in %s: %s", g.backoff, out)
	if err := g.sleep(ctx, g.backoff); err != nil {
		return err
	}

	out, err = g.run.Run(ws.Path, "git", "push", "-u", g.remote, ws.Branch)
	if err != nil {
		return domain.SkipWrap("push failed", fmt.Errorf("git push: %s: %w", out, err))
	}
	return nil
}

// Open creates the review request for a phase branch and returns its
// handle. Failure to create the review, or to parse its number from
// the creation response, skips the phase.
func (g *Gate) Open(ws *workspace.Workspace, phase domain.Phase, done, total int, checklist string) (Review, error) {
	title := Truncate(fmt.Sprintf("%s: %s", phase.ID, phase.Description), maxTitleLen)
	body := g.buildBody(ws, phase, done, total, checklist)

	out, err := g.run.Run(ws.Path, "gh", "pr", "create",
		"--title", title,
		"--body", body,
		"--base", g.trunk,
		"--head", ws.Branch,
	)
	if err != nil {
		return Review{}, domain.SkipWrap("review creation failed", fmt.Errorf("gh pr create: %s: %w", out, err))
	}

	url := strings.TrimSpace(string(out))
	num := extractNumber(url)
	if num == 0 {
		return Review{}, domain.Skipf("could not parse review number from %q", url)
	}

	g.log.Printf("review #%d opened: %s", num, url)
	return Review{Number: num, URL: url}, nil
}

func (g *Gate) buildBody(ws *workspace.Workspace, phase domain.Phase, done, total int, checklist string) string {
	return fmt.Sprintf(bodyTemplate,
		phase.Description,
		done, total,
		g.commitSummary(ws),
		checklist,
	)
}

// commitSummary returns the last maxCommitLines one-line commit
// subjects on the branch, oldest first.
func (g *Gate) commitSummary(ws *workspace.Workspace) string {
	out, err := g.run.Run(ws.Path, "git", "log", "--reverse", "--pretty=format:%s", g.remote+"/"+g.trunk+"..HEAD")
	if err != nil {
		g.log.Warnf("git log: %s: %v", out, err)
		return "(commit history unavailable)"
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > maxCommitLines {
		lines = lines[len(lines)-maxCommitLines:]
	}
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", l)
	}
	return b.String()
}

// Truncate shortens s to at most n runes, appending an ellipsis when
// it was cut. Counting runes keeps a multi-byte title valid UTF-8.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

// extractNumber parses the review number from a creation response URL
// of the form https://host/owner/repo/pull/123.
func extractNumber(url string) int {
	parts := strings.Split(url, "/")
	if len(parts) == 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	if err != nil {
		return 0
	}
	return n
}
