package statedb

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *StateDB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func row(pane int, status string) SessionRow {
	return SessionRow{
		PaneID:    pane,
		PID:       1000 + pane,
		Method:    "direct",
		Cwd:       "/work",
		TTY:       "pts/1",
		Status:    status,
		UpdatedAt: time.Now(),
		RunID:     "run-1",
	}
}

func TestOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db1.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db1.SaveSessions([]SessionRow{row(3, "idle")}); err != nil {
		t.Fatalf("SaveSessions: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	rows, err := db2.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(rows) != 1 || rows[0].PaneID != 3 || rows[0].Status != "idle" {
		t.Errorf("Unexpected rows after reopen: %+v", rows)
	}
}

func TestSaveSessionsReplacesSnapshot(t *testing.T) {
	db := newTestDB(t)

	first := []SessionRow{row(1, "processing"), row(2, "idle")}
	first[0].Tools = []string{"Bash"}
	first[0].Since = time.UnixMilli(1_700_000_000_123)
	if err := db.SaveSessions(first); err != nil {
		t.Fatalf("SaveSessions: %v", err)
	}

	rows, err := db.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if len(rows[0].Tools) != 1 || rows[0].Tools[0] != "Bash" {
		t.Errorf("Tools not round-tripped: %v", rows[0].Tools)
	}
	if !rows[0].Since.Equal(first[0].Since) {
		t.Errorf("Since: got %v want %v", rows[0].Since, first[0].Since)
	}
	if !rows[1].Since.IsZero() {
		t.Errorf("Expected zero Since, got %v", rows[1].Since)
	}

	// Pane 1 ended, pane 4 appeared.
	if err := db.SaveSessions([]SessionRow{row(2, "waiting"), row(4, "ready")}); err != nil {
		t.Fatalf("SaveSessions: %v", err)
	}
	rows, _ = db.LoadSessions()
	if len(rows) != 2 || rows[0].PaneID != 2 || rows[1].PaneID != 4 {
		t.Fatalf("Unexpected rows: %+v", rows)
	}
	if rows[0].Status != "waiting" {
		t.Errorf("Expected pane 2 waiting, got %s", rows[0].Status)
	}

	if err := db.SaveSessions(nil); err != nil {
		t.Fatalf("SaveSessions(nil): %v", err)
	}
	rows, _ = db.LoadSessions()
	if len(rows) != 0 {
		t.Errorf("Expected empty snapshot, got %d rows", len(rows))
	}
}

func TestTransitions(t *testing.T) {
	db := newTestDB(t)
	base := time.Now().Add(-time.Hour)

	err := db.RecordTransitions([]TransitionRow{
		{At: base, RunID: "r", PaneID: 1, To: "ready"},
		{At: base.Add(time.Minute), RunID: "r", PaneID: 1, From: "ready", To: "processing"},
		{At: base.Add(2 * time.Minute), RunID: "r", PaneID: 2, To: "idle"},
		{At: base.Add(3 * time.Minute), RunID: "r", PaneID: 1, From: "processing", To: "waiting"},
	})
	if err != nil {
		t.Fatalf("RecordTransitions: %v", err)
	}

	all, err := db.RecentTransitions(HistoryFilter{PaneID: -1})
	if err != nil {
		t.Fatalf("RecentTransitions: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Expected 4, got %d", len(all))
	}
	if all[0].To != "waiting" {
		t.Errorf("Expected newest first, got %+v", all[0])
	}

	pane1, _ := db.RecentTransitions(HistoryFilter{PaneID: 1, Limit: 2})
	if len(pane1) != 2 || pane1[1].To != "processing" {
		t.Errorf("Unexpected pane 1 history: %+v", pane1)
	}

	n, err := db.PruneTransitions(base.Add(90 * time.Second))
	if err != nil {
		t.Fatalf("PruneTransitions: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 pruned, got %d", n)
	}
}

func TestRecordNoTransitions(t *testing.T) {
	db := newTestDB(t)
	if err := db.RecordTransitions(nil); err != nil {
		t.Fatalf("RecordTransitions(nil): %v", err)
	}
}

func TestHeartbeat(t *testing.T) {
	db := newTestDB(t)

	if err := db.RegisterDaemon("run-1"); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}
	if err := db.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	count, err := db.AliveDaemonCount(30 * time.Second)
	if err != nil {
		t.Fatalf("AliveDaemonCount: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 alive, got %d", count)
	}

	if err := db.UnregisterDaemon(); err != nil {
		t.Fatalf("UnregisterDaemon: %v", err)
	}
	count, _ = db.AliveDaemonCount(30 * time.Second)
	if count != 0 {
		t.Errorf("Expected 0 alive after unregister, got %d", count)
	}
}

func TestHeartbeatCleanup(t *testing.T) {
	db := newTestDB(t)

	stale := time.Now().Add(-2 * time.Minute).Unix()
	_, err := db.DB().Exec(
		"INSERT INTO daemon_heartbeats (pid, started, heartbeat, is_primary) VALUES (?, ?, ?, ?)",
		99999, stale, stale, 0,
	)
	if err != nil {
		t.Fatalf("Insert stale: %v", err)
	}
	if err := db.RegisterDaemon("run-1"); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}
	if err := db.CleanDeadDaemons(30 * time.Second); err != nil {
		t.Fatalf("CleanDeadDaemons: %v", err)
	}

	var total int
	if err := db.DB().QueryRow("SELECT COUNT(*) FROM daemon_heartbeats").Scan(&total); err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected 1 row after cleanup, got %d", total)
	}
}

func TestTouchAndLastModified(t *testing.T) {
	db := newTestDB(t)

	ts0, err := db.LastModified()
	if err != nil {
		t.Fatalf("LastModified: %v", err)
	}
	if ts0 != 0 {
		t.Errorf("Expected 0 before any touch, got %d", ts0)
	}

	if err := db.Touch(); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	ts1, _ := db.LastModified()
	if ts1 == 0 {
		t.Error("Expected non-zero after touch")
	}

	time.Sleep(2 * time.Millisecond)
	if err := db.Touch(); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	ts2, _ := db.LastModified()
	if ts2 <= ts1 {
		t.Errorf("Expected ts2 > ts1: %d <= %d", ts2, ts1)
	}
}

func TestMetadata(t *testing.T) {
	db := newTestDB(t)

	v, err := db.GetMeta("missing")
	if err != nil || v != "" {
		t.Errorf("Expected empty for missing key, got %q %v", v, err)
	}
	if err := db.SetMeta("last_run", "abc"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	v, _ = db.GetMeta("last_run")
	if v != "abc" {
		t.Errorf("Expected abc, got %q", v)
	}
	v, _ = db.GetMeta("schema_version")
	if v != "1" {
		t.Errorf("Expected schema_version 1, got %q", v)
	}
}

func TestConcurrentAccess(t *testing.T) {
	db := newTestDB(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := db.SaveSessions([]SessionRow{row(i, "idle")}); err != nil {
				t.Errorf("SaveSessions(%d): %v", i, err)
			}
			if _, err := db.LoadSessions(); err != nil {
				t.Errorf("LoadSessions: %v", err)
			}
		}(i)
	}
	wg.Wait()

	rows, _ := db.LoadSessions()
	if len(rows) != 1 {
		t.Errorf("Expected the last writer's single row, got %d", len(rows))
	}
}

func TestElectPrimary_FirstDaemon(t *testing.T) {
	db := newTestDB(t)

	if err := db.RegisterDaemon("run-1"); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}
	isPrimary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if !isPrimary {
		t.Error("First daemon should become primary")
	}

	isPrimary, err = db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary (repeat): %v", err)
	}
	if !isPrimary {
		t.Error("Should still be primary on repeat call")
	}
}

func TestElectPrimary_SecondDaemon(t *testing.T) {
	db := newTestDB(t)

	now := time.Now().Unix()
	_, err := db.DB().Exec(
		"INSERT INTO daemon_heartbeats (pid, started, heartbeat, is_primary) VALUES (?, ?, ?, ?)",
		10001, now, now, 1,
	)
	if err != nil {
		t.Fatalf("Insert primary: %v", err)
	}
	if err := db.RegisterDaemon("run-2"); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}

	isPrimary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if isPrimary {
		t.Error("Second daemon should NOT become primary while first is alive")
	}
}

func TestElectPrimary_Failover(t *testing.T) {
	db := newTestDB(t)

	stale := time.Now().Add(-2 * time.Minute).Unix()
	_, err := db.DB().Exec(
		"INSERT INTO daemon_heartbeats (pid, started, heartbeat, is_primary) VALUES (?, ?, ?, ?)",
		10001, stale, stale, 1,
	)
	if err != nil {
		t.Fatalf("Insert stale primary: %v", err)
	}
	if err := db.RegisterDaemon("run-2"); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}

	isPrimary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if !isPrimary {
		t.Error("Should become primary after stale primary is cleared")
	}

	var stalePrimary int
	if err := db.DB().QueryRow(
		"SELECT is_primary FROM daemon_heartbeats WHERE pid = 10001",
	).Scan(&stalePrimary); err != nil {
		t.Fatalf("Query stale PID: %v", err)
	}
	if stalePrimary != 0 {
		t.Error("Stale PID should have is_primary=0")
	}
}

func TestResignPrimary(t *testing.T) {
	db := newTestDB(t)

	if err := db.RegisterDaemon("run-1"); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}
	if ok, err := db.ElectPrimary(30 * time.Second); err != nil || !ok {
		t.Fatalf("ElectPrimary: %v %v", ok, err)
	}
	if err := db.ResignPrimary(); err != nil {
		t.Fatalf("ResignPrimary: %v", err)
	}

	var isPrim int
	if err := db.DB().QueryRow(
		"SELECT is_primary FROM daemon_heartbeats WHERE pid = ?", db.pid,
	).Scan(&isPrim); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if isPrim != 0 {
		t.Error("Should not be primary after resign")
	}

	isPrimary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary after resign: %v", err)
	}
	if !isPrimary {
		t.Error("Should become primary again after resign")
	}
}
