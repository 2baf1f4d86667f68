// Package ledger records run outcomes in a SQLite file next to the output,
// so failed sessions can be inspected and retried after the fact.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	done INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS outcomes (
	run_id TEXT NOT NULL REFERENCES runs(id),
	session_id TEXT NOT NULL,
	status TEXT NOT NULL,
	stage TEXT,
	error TEXT,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (run_id, session_id)
);
`

// Outcome is one recorded per-session result.
type Outcome struct {
	RunID      string
	SessionID  string
	Status     string
	Stage      string
	Error      string
	RecordedAt time.Time
}

// Ledger wraps the runs database.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database and bootstraps the schema.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// BeginRun registers a new run.
func (l *Ledger) BeginRun(runID string, startedAt time.Time) error {
	_, err := l.db.Exec(
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		runID, startedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordOutcome stores one session's result for a run. Re-recording the
// same session replaces the earlier row.
func (l *Ledger) RecordOutcome(runID, sessionID, status, stage, errMsg string) error {
	_, err := l.db.Exec(
		`INSERT OR REPLACE INTO outcomes (run_id, session_id, status, stage, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, sessionID, status, stage, errMsg, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// FinishRun stores the final counters for a run.
func (l *Ledger) FinishRun(runID string, done, skipped, failed int) error {
	_, err := l.db.Exec(
		`UPDATE runs SET finished_at = ?, done = ?, skipped = ?, failed = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), done, skipped, failed, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// LastRunID returns the most recently started run, or "" when the ledger is
// empty.
func (l *Ledger) LastRunID() (string, error) {
	row := l.db.QueryRow(`SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`)

	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("scan run id: %w", err)
	}
	return id, nil
}

// FailedSessions returns the failed outcomes of a run, ordered by session
// id. An empty runID means the most recent run.
func (l *Ledger) FailedSessions(runID string) ([]Outcome, error) {
	if runID == "" {
		last, err := l.LastRunID()
		if err != nil {
			return nil, err
		}
		if last == "" {
			return nil, nil
		}
		runID = last
	}

	rows, err := l.db.Query(`
		SELECT run_id, session_id, status, stage, error, recorded_at
		FROM outcomes
		WHERE run_id = ? AND status = 'failed'
		ORDER BY session_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failed sessions: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var recorded string
		if err := rows.Scan(&o.RunID, &o.SessionID, &o.Status, &o.Stage, &o.Error, &recorded); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, recorded); err == nil {
			o.RecordedAt = ts
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
