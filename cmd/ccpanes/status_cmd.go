package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ccpanes/ccpanes/internal/config"
	"github.com/ccpanes/ccpanes/internal/statedb"
	"github.com/ccpanes/ccpanes/internal/status"
)

var errNoStore = errors.New("no state database yet; start `ccpanes daemon` first")

// openExistingStore opens the daemon's database without creating one.
func openExistingStore() (*statedb.StateDB, error) {
	path := config.GetDaemonSettings().StateDB
	if _, err := os.Stat(path); err != nil {
		return nil, errNoStore
	}
	db, err := statedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type statusReport struct {
	Counts    map[status.Status]int `json:"counts"`
	Total     int                   `json:"total"`
	UpdatedAt time.Time             `json:"updated_at"`
	Daemons   int                   `json:"daemons"`
	Stale     bool                  `json:"stale"`
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	_ = fs.Parse(normalizeArgs(fs, args))

	out := NewCLIOutput(*jsonOut)
	db, err := openExistingStore()
	if err != nil {
		out.Fail(err.Error(), ErrCodeStoreUnavailable)
	}
	defer db.Close()

	rows, err := db.LoadSessions()
	if err != nil {
		out.Fail(err.Error(), ErrCodeStoreUnavailable)
	}
	daemons, _ := db.AliveDaemonCount(30 * time.Second)
	report := buildStatusReport(rows, daemons)
	out.Print(formatStatusReport(report), report)
}

func buildStatusReport(rows []statedb.SessionRow, daemons int) statusReport {
	statuses := make([]status.Status, 0, len(rows))
	var latest time.Time
	for _, r := range rows {
		st, ok := status.Parse(r.Status)
		if !ok {
			st = status.Unknown
		}
		statuses = append(statuses, st)
		if r.UpdatedAt.After(latest) {
			latest = r.UpdatedAt
		}
	}
	return statusReport{
		Counts:    status.Counts(statuses),
		Total:     len(rows),
		UpdatedAt: latest,
		Daemons:   daemons,
		Stale:     daemons == 0,
	}
}

func formatStatusReport(r statusReport) string {
	var b strings.Builder
	parts := []string{fmt.Sprintf("%d sessions", r.Total)}
	for _, st := range status.All {
		if n := r.Counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d %s", st.Icon(), n, strings.ToLower(st.Label())))
		}
	}
	b.WriteString(strings.Join(parts, "  "))
	b.WriteByte('\n')
	if !r.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "updated %s ago\n", time.Since(r.UpdatedAt).Round(time.Second))
	}
	if r.Stale {
		b.WriteString("no daemon is running; counts may be out of date\n")
	}
	return b.String()
}

func handleHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	limit := fs.Int("limit", 20, "Number of transitions to show")
	pane := fs.Int("pane", -1, "Only transitions of this pane id")
	_ = fs.Parse(normalizeArgs(fs, args))

	out := NewCLIOutput(*jsonOut)
	if *limit <= 0 {
		out.Fail("--limit must be positive", ErrCodeInvalidArgument)
	}
	db, err := openExistingStore()
	if err != nil {
		out.Fail(err.Error(), ErrCodeStoreUnavailable)
	}
	defer db.Close()

	rows, err := db.RecentTransitions(statedb.HistoryFilter{Limit: *limit, PaneID: *pane})
	if err != nil {
		out.Fail(err.Error(), ErrCodeStoreUnavailable)
	}
	if rows == nil {
		rows = []statedb.TransitionRow{}
	}
	out.Print(formatHistory(rows), rows)
}

func formatHistory(rows []statedb.TransitionRow) string {
	if len(rows) == 0 {
		return "no transitions recorded\n"
	}
	var b strings.Builder
	for _, r := range rows {
		to := r.To
		if to == "" {
			to = "ended"
		}
		from := r.From
		if from == "" {
			from = "new"
		}
		fmt.Fprintf(&b, "%s  pane %-4d %-10s -> %-10s %s", r.At.Local().Format("01-02 15:04:05"), r.PaneID, from, to, r.Cwd)
		if r.Reason != "" {
			fmt.Fprintf(&b, "  (%s)", r.Reason)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
