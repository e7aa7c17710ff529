// Package statedb persists the last published snapshot and the history of
// status transitions in SQLite, so one-shot commands can report on what a
// running daemon saw.
package statedb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database. Safe for concurrent use within one process;
// several processes can share the file through WAL mode and a busy timeout.
type StateDB struct {
	db  *sql.DB
	pid int
}

// SessionRow is one session of the stored snapshot.
type SessionRow struct {
	PaneID         int
	PID            int
	Method         string
	Cwd            string
	TTY            string
	Workspace      string
	TabID          int
	Title          string
	SessionID      string
	TranscriptPath string
	Status         string
	Reason         string
	Source         string
	Tools          []string
	Branch         string
	Since          time.Time
	UpdatedAt      time.Time
	RunID          string
}

// TransitionRow is one recorded status change. From is empty for a session
// that appeared and To is empty for one that ended.
type TransitionRow struct {
	ID        int64
	At        time.Time
	RunID     string
	PaneID    int
	Cwd       string
	SessionID string
	From      string
	To        string
	Reason    string
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	// busy_timeout goes in the DSN so every pooled connection gets it, not
	// just the one that runs the PRAGMA below.
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: readers (status, history) never block the daemon's writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	return &StateDB{db: db, pid: os.Getpid()}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for tests.
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct{ name, sql string }{
		{"metadata", `
			CREATE TABLE IF NOT EXISTS metadata (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`},
		{"sessions", `
			CREATE TABLE IF NOT EXISTS sessions (
				pane_id         INTEGER PRIMARY KEY,
				pid             INTEGER NOT NULL,
				method          TEXT NOT NULL DEFAULT '',
				cwd             TEXT NOT NULL DEFAULT '',
				tty             TEXT NOT NULL DEFAULT '',
				workspace       TEXT NOT NULL DEFAULT '',
				tab_id          INTEGER NOT NULL DEFAULT 0,
				title           TEXT NOT NULL DEFAULT '',
				session_id      TEXT NOT NULL DEFAULT '',
				transcript_path TEXT NOT NULL DEFAULT '',
				status          TEXT NOT NULL,
				reason          TEXT NOT NULL DEFAULT '',
				source          TEXT NOT NULL DEFAULT '',
				tools           TEXT NOT NULL DEFAULT '[]',
				branch          TEXT NOT NULL DEFAULT '',
				since           INTEGER NOT NULL DEFAULT 0,
				updated_at      INTEGER NOT NULL,
				run_id          TEXT NOT NULL DEFAULT ''
			)`},
		{"transitions", `
			CREATE TABLE IF NOT EXISTS transitions (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				at          INTEGER NOT NULL,
				run_id      TEXT NOT NULL DEFAULT '',
				pane_id     INTEGER NOT NULL,
				cwd         TEXT NOT NULL DEFAULT '',
				session_id  TEXT NOT NULL DEFAULT '',
				from_status TEXT NOT NULL DEFAULT '',
				to_status   TEXT NOT NULL DEFAULT '',
				reason      TEXT NOT NULL DEFAULT ''
			)`},
		{"transitions index", `CREATE INDEX IF NOT EXISTS idx_transitions_pane ON transitions(pane_id, at)`},
		{"heartbeats", `
			CREATE TABLE IF NOT EXISTS daemon_heartbeats (
				pid        INTEGER PRIMARY KEY,
				run_id     TEXT NOT NULL DEFAULT '',
				started    INTEGER NOT NULL,
				heartbeat  INTEGER NOT NULL,
				is_primary INTEGER NOT NULL DEFAULT 0
			)`},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.sql); err != nil {
			return fmt.Errorf("statedb: create %s: %w", st.name, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Snapshot ---

// SaveSessions replaces the stored snapshot with rows in one transaction.
// Panes missing from rows are deleted so ended sessions don't linger.
func (s *StateDB) SaveSessions(rows []SessionRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if len(rows) == 0 {
		if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
			return err
		}
	} else {
		placeholders := make([]string, len(rows))
		args := make([]any, len(rows))
		for i, r := range rows {
			placeholders[i] = "?"
			args[i] = r.PaneID
		}
		if _, err := tx.Exec(
			"DELETE FROM sessions WHERE pane_id NOT IN ("+strings.Join(placeholders, ",")+")",
			args...,
		); err != nil {
			return err
		}
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO sessions (
			pane_id, pid, method, cwd, tty, workspace, tab_id, title,
			session_id, transcript_path, status, reason, source, tools,
			branch, since, updated_at, run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		tools, err := json.Marshal(r.Tools)
		if err != nil {
			return err
		}
		if r.Tools == nil {
			tools = []byte("[]")
		}
		var since int64
		if !r.Since.IsZero() {
			since = r.Since.UnixMilli()
		}
		if _, err := stmt.Exec(
			r.PaneID, r.PID, r.Method, r.Cwd, r.TTY, r.Workspace, r.TabID, r.Title,
			r.SessionID, r.TranscriptPath, r.Status, r.Reason, r.Source, string(tools),
			r.Branch, since, r.UpdatedAt.UnixMilli(), r.RunID,
		); err != nil {
			return fmt.Errorf("statedb: save pane %d: %w", r.PaneID, err)
		}
	}
	return tx.Commit()
}

// LoadSessions returns the stored snapshot ordered by pane id.
func (s *StateDB) LoadSessions() ([]SessionRow, error) {
	rows, err := s.db.Query(`
		SELECT pane_id, pid, method, cwd, tty, workspace, tab_id, title,
			session_id, transcript_path, status, reason, source, tools,
			branch, since, updated_at, run_id
		FROM sessions ORDER BY pane_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			r          SessionRow
			tools      string
			since, upd int64
		)
		if err := rows.Scan(
			&r.PaneID, &r.PID, &r.Method, &r.Cwd, &r.TTY, &r.Workspace, &r.TabID, &r.Title,
			&r.SessionID, &r.TranscriptPath, &r.Status, &r.Reason, &r.Source, &tools,
			&r.Branch, &since, &upd, &r.RunID,
		); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tools), &r.Tools)
		if since > 0 {
			r.Since = time.UnixMilli(since)
		}
		r.UpdatedAt = time.UnixMilli(upd)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Transitions ---

// RecordTransitions appends rows in one transaction.
func (s *StateDB) RecordTransitions(rows []TransitionRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO transitions (at, run_id, pane_id, cwd, session_id, from_status, to_status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.At.UnixMilli(), r.RunID, r.PaneID, r.Cwd, r.SessionID, r.From, r.To, r.Reason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// HistoryFilter narrows RecentTransitions. PaneID < 0 means every pane.
type HistoryFilter struct {
	Limit  int
	PaneID int
}

// RecentTransitions returns the newest transitions first.
func (s *StateDB) RecentTransitions(f HistoryFilter) ([]TransitionRow, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `SELECT id, at, run_id, pane_id, cwd, session_id, from_status, to_status, reason FROM transitions`
	var args []any
	if f.PaneID >= 0 {
		query += ` WHERE pane_id = ?`
		args = append(args, f.PaneID)
	}
	query += ` ORDER BY at DESC, id DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRow
	for rows.Next() {
		var (
			r  TransitionRow
			at int64
		)
		if err := rows.Scan(&r.ID, &at, &r.RunID, &r.PaneID, &r.Cwd, &r.SessionID, &r.From, &r.To, &r.Reason); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneTransitions deletes transitions older than cutoff.
func (s *StateDB) PruneTransitions(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM transitions WHERE at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Touch records the time of the last snapshot write.
func (s *StateDB) Touch() error {
	return s.SetMeta("last_modified", fmt.Sprintf("%d", time.Now().UnixNano()))
}

// LastModified returns the last_modified timestamp from metadata, 0 if unset.
func (s *StateDB) LastModified() (int64, error) {
	val, err := s.GetMeta("last_modified")
	if err != nil || val == "" {
		return 0, err
	}
	var ts int64
	_, err = fmt.Sscanf(val, "%d", &ts)
	return ts, err
}
