package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccpanes/ccpanes/internal/bridge"
	"github.com/ccpanes/ccpanes/internal/config"
	"github.com/ccpanes/ccpanes/internal/mux"
	"github.com/ccpanes/ccpanes/internal/procs"
)

func handleBridgePrune(args []string) {
	fs := flag.NewFlagSet("bridge-prune", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	dryRun := fs.Bool("dry-run", false, "List what would be removed")
	_ = fs.Parse(normalizeArgs(fs, args))

	out := NewCLIOutput(*jsonOut)
	bs := config.GetBridgeSettings()
	opts := bridge.PruneOptions{MaxAge: bs.PruneAfter(), DryRun: *dryRun}

	// Without a pane list only the age check runs.
	ctx, cancel := context.WithTimeout(context.Background(), config.GetRefreshSettings().Timeout())
	defer cancel()
	if panes, err := mux.New(config.GetMultiplexer(), os.Getenv).ListPanes(ctx); err == nil {
		opts.ActiveTTYs = make(map[string]bool, len(panes))
		for _, p := range panes {
			if tty := p.TTYShort(); tty != "" {
				opts.ActiveTTYs[tty] = true
			}
		}
	} else {
		cliLog.Warn("bridge_prune_no_panes", slog.String("error", err.Error()))
	}

	res, err := bridge.Prune(bs.Dir, opts)
	if err != nil && res.Total() == 0 {
		out.Fail(err.Error(), ErrCodeInvalidOperation)
	}

	verb := "removed"
	if *dryRun {
		verb = "would remove"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d bridge records from %s\n", verb, res.Total(), bs.Dir)
	causes := []struct {
		name  string
		files []string
	}{{"stale", res.Stale}, {"inactive", res.Inactive}, {"corrupt", res.Corrupt}}
	for _, c := range causes {
		for _, n := range c.files {
			fmt.Fprintf(&b, "  %-8s %s\n", c.name, n)
		}
	}
	out.Print(b.String(), map[string]any{
		"success":  err == nil,
		"dry_run":  *dryRun,
		"dir":      bs.Dir,
		"stale":    nonNil(res.Stale),
		"inactive": nonNil(res.Inactive),
		"corrupt":  nonNil(res.Corrupt),
	})
	if err != nil {
		os.Exit(1)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// statusLineInput is the subset of the status-line JSON the assistant pipes
// to its statusLine command.
type statusLineInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
	Workspace      struct {
		CurrentDir string `json:"current_dir"`
	} `json:"workspace"`
	Model struct {
		DisplayName string `json:"display_name"`
	} `json:"model"`
}

func handleBridgeWrite(args []string) {
	fs := flag.NewFlagSet("bridge-write", flag.ExitOnError)
	dir := fs.String("dir", "", "Bridge directory (default from config)")
	_ = fs.Parse(normalizeArgs(fs, args))

	in, err := parseStatusLine(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// The status line must print even when the record can't be written.
	fmt.Println(statusLineText(in))

	if *dir == "" {
		*dir = config.GetBridgeSettings().Dir
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	records, err := procs.NewSource(config.GetDetectSettings().ProcessSource).ListProcesses(ctx)
	if err != nil {
		cliLog.Warn("bridge_write_no_procs", slog.String("error", err.Error()))
		return
	}
	tty := ttyOf(procs.Build(records), os.Getppid())
	if tty == "" {
		cliLog.Warn("bridge_write_no_tty", slog.Int("ppid", os.Getppid()))
		return
	}
	rec := bridge.Record{
		SessionID:      in.SessionID,
		TranscriptPath: in.TranscriptPath,
		Cwd:            in.cwd(),
		TTY:            tty,
	}
	if err := bridge.Write(*dir, rec, time.Now()); err != nil {
		cliLog.Warn("bridge_write_failed", slog.String("tty", tty), slog.String("error", err.Error()))
	}
}

func parseStatusLine(r io.Reader) (statusLineInput, error) {
	var in statusLineInput
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return in, fmt.Errorf("read status line input: %w", err)
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("parse status line input: %w", err)
	}
	if in.SessionID == "" {
		return in, fmt.Errorf("status line input has no session_id")
	}
	return in, nil
}

func (in statusLineInput) cwd() string {
	if in.Cwd != "" {
		return in.Cwd
	}
	return in.Workspace.CurrentDir
}

func statusLineText(in statusLineInput) string {
	parts := []string{}
	if in.Model.DisplayName != "" {
		parts = append(parts, in.Model.DisplayName)
	}
	if cwd := in.cwd(); cwd != "" {
		parts = append(parts, filepath.Base(cwd))
	}
	if len(in.SessionID) >= 8 {
		parts = append(parts, in.SessionID[:8])
	}
	return strings.Join(parts, " · ")
}

// ttyOf is the tty of pid or its nearest ancestor that has one. The hook's
// stdin is a pipe, so its own tty is not useful.
func ttyOf(tree *procs.Tree, pid int) string {
	if r, ok := tree.Get(pid); ok {
		if tty := procs.NormalizeTTY(r.TTY); tty != "" {
			return tty
		}
	}
	for _, a := range tree.Ancestors(pid) {
		if tty := procs.NormalizeTTY(a.TTY); tty != "" {
			return tty
		}
	}
	return ""
}
