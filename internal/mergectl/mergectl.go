// Package mergectl lands a finished phase branch on trunk and brings
// the main checkout back in line with the remote afterwards.
package mergectl

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
	"github.com/hochfrequenz/phase-orchestrator/internal/execx"
	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
	"github.com/hochfrequenz/phase-orchestrator/internal/review"
)

// Controller merges reviews and synchronizes the trunk checkout.
// The trunk checkout is treated as a mirror of the remote, never as a
// place for direct edits; a failed pull is resolved by hard reset.
type Controller struct {
	repoDir  string
	remote   string
	trunk    string
	primary  string
	fallback string
	run      execx.Runner
	log      *logging.Logger
}

// New creates a Controller operating on the main checkout at repoDir.
// primary and fallback name the merge strategies to try, in order.
func New(repoDir, remote, trunk, primary, fallback string, run execx.Runner, log *logging.Logger) *Controller {
	if primary == "" {
		primary = "merge"
	}
	if fallback == "" {
		fallback = "squash"
	}
	return &Controller{repoDir: repoDir, remote: remote, trunk: trunk, primary: primary, fallback: fallback, run: run, log: log}
}

// Merge lands the review on trunk with the primary strategy, retrying
// once with squash. When both strategies fail the review is left open
// for manual handling and the phase is skipped.
func (c *Controller) Merge(rev review.Review) error {
	num := strconv.Itoa(rev.Number)

	out, err := c.run.Run(c.repoDir, "gh", "pr", "merge", num, "--"+c.primary, "--delete-branch")
	if err == nil {
		c.log.Printf("review #%d merged", rev.Number)
		return nil
	}
	c.log.Warnf("%s merge failed for #%d, trying %s: %s", c.primary, rev.Number, c.fallback, out)

	out, err = c.run.Run(c.repoDir, "gh", "pr", "merge", num, "--"+c.fallback, "--delete-branch")
	if err == nil {
		c.log.Printf("review #%d merged with %s", rev.Number, c.fallback)
		return nil
	}

	c.log.Warnf("review #%d left open for manual handling: %s", rev.Number, rev.URL)
	return domain.SkipWrap(
		fmt.Sprintf("merge failed, review #%d left open", rev.Number),
		fmt.Errorf("gh pr merge: %s: %w", out, err),
	)
}

// SyncTrunk brings the main checkout up to date with the remote trunk.
// scratchPaths lists phase state files (relative to the checkout) whose
// untracked copies may block the pull; they are reconciled first. A
// failed pull falls back to fetch plus hard reset, discarding any local
// trunk state.
func (c *Controller) SyncTrunk(scratchPaths []string) error {
	c.Reconcile(scratchPaths)

	out, err := c.run.Run(c.repoDir, "git", "pull")
	if err == nil {
		return nil
	}
	c.log.Warnf("git pull failed, resetting to %s/%s: %s", c.remote, c.trunk, out)

	if out, err := c.run.Run(c.repoDir, "git", "fetch", c.remote); err != nil {
		return domain.SkipWrap("trunk sync failed", fmt.Errorf("git fetch: %s: %w", out, err))
	}
	if out, err := c.run.Run(c.repoDir, "git", "reset", "--hard", c.remote+"/"+c.trunk); err != nil {
		return domain.SkipWrap("trunk sync failed", fmt.Errorf("git reset: %s: %w", out, err))
	}
	return nil
}

// Reconcile removes untracked copies of the given paths from the main
// checkout so they cannot block a pull. Tracked files are never
// touched.
func (c *Controller) Reconcile(paths []string) {
	for _, p := range paths {
		abs := filepath.Join(c.repoDir, p)
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if c.tracked(p) {
			continue
		}
		if err := os.Remove(abs); err != nil {
			c.log.Warnf("removing untracked %s: %v", p, err)
			continue
		}
		c.log.Printf("removed untracked %s before sync", p)
	}
}

// tracked reports whether path is known to version control in the main
// checkout.
func (c *Controller) tracked(path string) bool {
	_, err := c.run.Run(c.repoDir, "git", "ls-files", "--error-unmatch", path)
	return err == nil
}

// ChangedFiles lists the files a review touches, for the run record.
func (c *Controller) ChangedFiles(rev review.Review) []string {
	out, err := c.run.Run(c.repoDir, "gh", "pr", "diff", strconv.Itoa(rev.Number), "--name-only")
	if err != nil {
		c.log.Warnf("listing changed files for #%d: %v", rev.Number, err)
		return nil
	}
	var files []string
	for _, l := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if l != "" {
			files = append(files, l)
		}
	}
	return files
}
