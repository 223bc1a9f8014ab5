package domain

import (
	"fmt"
	"time"
)

// Phase is one unit of orchestrated work with its own branch, task list
// and iteration budget. Phases are immutable once the list is loaded.
type Phase struct {
	ID            string `toml:"id"`
	Branch        string `toml:"branch"`
	Description   string `toml:"description"`
	MaxIterations int    `toml:"max_iterations"`
	TaskList      string `toml:"task_list"` // repo-relative path to the phase task list
}

// Outcome is the terminal state of a phase within one run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
)

// RunResult is the per-phase outcome record. It is produced once per
// phase and never mutated afterwards.
type RunResult struct {
	PhaseID        string
	CompletedTasks int
	TotalTasks     int
	CommitCount    int
	PRNumber       int // 0 when no review was opened
	CIPassed       bool
	Outcome        Outcome
	SkipReason     string
	FinishedAt     time.Time
}

// Completed reports whether the phase ran through merge and sync.
func (r RunResult) Completed() bool {
	return r.Outcome == OutcomeCompleted
}

// Skipped constructs a skip result for a phase.
func Skipped(phaseID, reason string) RunResult {
	return RunResult{
		PhaseID:    phaseID,
		Outcome:    OutcomeSkipped,
		SkipReason: reason,
		FinishedAt: time.Now(),
	}
}

// CIState is the state of one supervised CI watch attempt.
type CIState string

const (
	CIRegistering CIState = "registering"
	CIWatching    CIState = "watching"
	CIPassed      CIState = "passed"
	CIFailed      CIState = "failed"
	CITimedOut    CIState = "timed_out"
)

// FailureClass is an auto-fixable category of CI failure.
type FailureClass string

const (
	FailureFormat FailureClass = "format"
	FailureLint   FailureClass = "lint"
)

// FindPhase returns the index of the phase with the given id, or -1.
func FindPhase(phases []Phase, id string) int {
	for i, p := range phases {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Validate checks a phase list for the invariants the orchestrator
// relies on: non-empty ids, unique ids and unique branch names.
func Validate(phases []Phase) error {
	if len(phases) == 0 {
		return fmt.Errorf("no phases configured")
	}
	ids := make(map[string]bool, len(phases))
	branches := make(map[string]bool, len(phases))
	for _, p := range phases {
		if p.ID == "" {
			return fmt.Errorf("phase with empty id")
		}
		if p.Branch == "" {
			return fmt.Errorf("phase %s: empty branch name", p.ID)
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate phase id %q", p.ID)
		}
		if branches[p.Branch] {
			return fmt.Errorf("duplicate branch name %q", p.Branch)
		}
		ids[p.ID] = true
		branches[p.Branch] = true
	}
	return nil
}
