package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    start_phase TEXT,
    exit_code INTEGER
);

CREATE TABLE IF NOT EXISTS phase_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    phase_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    skip_reason TEXT,
    completed_tasks INTEGER DEFAULT 0,
    total_tasks INTEGER DEFAULT 0,
    commit_count INTEGER DEFAULT 0,
    pr_number INTEGER DEFAULT 0,
    ci_passed BOOLEAN DEFAULT FALSE,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_phase_results_run_id ON phase_results(run_id);
CREATE INDEX IF NOT EXISTS idx_phase_results_phase_id ON phase_results(phase_id);
`
