// Package runstore persists run history in SQLite. The store is
// advisory: the pipeline never reads it to make decisions, it exists
// for the status command, the TUI and post-hoc inspection.
package runstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
)

// Store provides SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Run is one orchestrator invocation.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	StartPhase string
	ExitCode   int
}

// New opens (and if necessary creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records the beginning of a run.
func (s *Store) StartRun(runID, startPhase string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, started_at, start_phase) VALUES (?, ?, ?)`,
		runID, time.Now(), startPhase,
	)
	return err
}

// FinishRun records the end of a run and its exit code.
func (s *Store) FinishRun(runID string, exitCode int) error {
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, exit_code = ? WHERE id = ?`,
		time.Now(), exitCode, runID,
	)
	return err
}

// RecordPhase appends one phase outcome to a run.
func (s *Store) RecordPhase(runID string, res domain.RunResult) error {
	_, err := s.db.Exec(`
		INSERT INTO phase_results (run_id, phase_id, outcome, skip_reason, completed_tasks, total_tasks, commit_count, pr_number, ci_passed, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		res.PhaseID,
		string(res.Outcome),
		res.SkipReason,
		res.CompletedTasks,
		res.TotalTasks,
		res.CommitCount,
		res.PRNumber,
		res.CIPassed,
		res.FinishedAt,
	)
	return err
}

// LatestRuns returns the most recent runs, newest first.
func (s *Store) LatestRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, COALESCE(start_phase, ''), COALESCE(exit_code, 0)
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		// finished_at is read as a nullable column because the sqlite
		// driver cannot infer time.Time for a COALESCE expression.
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.StartPhase, &r.ExitCode); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		} else {
			r.FinishedAt = r.StartedAt
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PhaseResults returns the phase outcomes of one run in record order.
func (s *Store) PhaseResults(runID string) ([]domain.RunResult, error) {
	rows, err := s.db.Query(`
		SELECT phase_id, outcome, COALESCE(skip_reason, ''), completed_tasks, total_tasks, commit_count, pr_number, ci_passed, finished_at
		FROM phase_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.RunResult
	for rows.Next() {
		var r domain.RunResult
		var outcome string
		if err := rows.Scan(&r.PhaseID, &outcome, &r.SkipReason, &r.CompletedTasks, &r.TotalTasks, &r.CommitCount, &r.PRNumber, &r.CIPassed, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.Outcome = domain.Outcome(outcome)
		results = append(results, r)
	}
	return results, rows.Err()
}

// LastOutcome returns the most recent recorded outcome for a phase
// across all runs, or "" when the phase has never run.
func (s *Store) LastOutcome(phaseID string) (domain.Outcome, string, error) {
	row := s.db.QueryRow(`
		SELECT outcome, COALESCE(skip_reason, '') FROM phase_results
		WHERE phase_id = ? ORDER BY id DESC LIMIT 1`, phaseID)

	var outcome, reason string
	if err := row.Scan(&outcome, &reason); err != nil {
		if err == sql.ErrNoRows {
			return "", "", nil
		}
		return "", "", err
	}
	return domain.Outcome(outcome), reason, nil
}
