package statedb

import (
	"fmt"
	"time"
)

// Several daemons may run against one database (one per terminal window, or a
// stale one left behind). Only the primary rewrites tab titles.

// RegisterDaemon records this process as a running daemon.
func (s *StateDB) RegisterDaemon(runID string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daemon_heartbeats (pid, run_id, started, heartbeat, is_primary)
		VALUES (?, ?, ?, ?, 0)
	`, s.pid, runID, now, now)
	return err
}

// Heartbeat updates the heartbeat timestamp for this process.
func (s *StateDB) Heartbeat() error {
	_, err := s.db.Exec(
		"UPDATE daemon_heartbeats SET heartbeat = ? WHERE pid = ?",
		time.Now().Unix(), s.pid,
	)
	return err
}

// UnregisterDaemon removes this process from the heartbeat table.
func (s *StateDB) UnregisterDaemon() error {
	_, err := s.db.Exec("DELETE FROM daemon_heartbeats WHERE pid = ?", s.pid)
	return err
}

// CleanDeadDaemons removes heartbeat entries that haven't been updated within timeout.
func (s *StateDB) CleanDeadDaemons(timeout time.Duration) error {
	cutoff := time.Now().Add(-timeout).Unix()
	_, err := s.db.Exec("DELETE FROM daemon_heartbeats WHERE heartbeat < ?", cutoff)
	return err
}

// AliveDaemonCount returns how many daemons heartbeated within timeout.
func (s *StateDB) AliveDaemonCount(timeout time.Duration) (int, error) {
	var count int
	cutoff := time.Now().Add(-timeout).Unix()
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM daemon_heartbeats WHERE heartbeat >= ?", cutoff,
	).Scan(&count)
	return count, err
}

// ElectPrimary makes this daemon the primary unless another live one already
// is. Stale primaries are cleared in the same transaction.
func (s *StateDB) ElectPrimary(timeout time.Duration) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("statedb: begin elect: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := time.Now().Add(-timeout).Unix()

	if _, err := tx.Exec(
		"UPDATE daemon_heartbeats SET is_primary = 0 WHERE heartbeat < ? AND is_primary = 1",
		cutoff,
	); err != nil {
		return false, fmt.Errorf("statedb: clear stale primary: %w", err)
	}

	var existingPID int
	err = tx.QueryRow(
		"SELECT pid FROM daemon_heartbeats WHERE is_primary = 1 AND heartbeat >= ? LIMIT 1",
		cutoff,
	).Scan(&existingPID)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("statedb: commit elect: %w", err)
		}
		return existingPID == s.pid, nil
	}

	if _, err := tx.Exec(
		"UPDATE daemon_heartbeats SET is_primary = 1 WHERE pid = ?",
		s.pid,
	); err != nil {
		return false, fmt.Errorf("statedb: claim primary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("statedb: commit elect: %w", err)
	}
	return true, nil
}

// ResignPrimary clears the is_primary flag for this process.
func (s *StateDB) ResignPrimary() error {
	_, err := s.db.Exec(
		"UPDATE daemon_heartbeats SET is_primary = 0 WHERE pid = ?",
		s.pid,
	)
	return err
}
