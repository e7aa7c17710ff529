package mux

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ccpanes/ccpanes/internal/procs"
)

// tmuxPaneFormat yields one tab-separated line per pane. Titles may contain
// spaces but never tabs, since tmux strips control characters from them.
const tmuxPaneFormat = "#{pane_id}\t#{window_id}\t#{session_id}\t#{session_name}\t#{pane_tty}\t#{pane_active}\t#{window_active}\t#{session_attached}\t#{window_name}\t#{pane_current_path}\t#{pane_title}"

// Tmux drives the tmux client. Panes map onto the common model as: pane %N
// is pane N, window @N is tab N, session $N is window N and its name is the
// workspace.
type Tmux struct {
	Bin string
	Run procs.RunFunc
}

// NewTmux returns a Tmux using the tmux binary on PATH.
func NewTmux() *Tmux {
	return &Tmux{Bin: "tmux", Run: procs.ExecRun}
}

func (t *Tmux) Name() string { return "tmux" }

func (t *Tmux) run(ctx context.Context, args ...string) ([]byte, error) {
	run := t.Run
	if run == nil {
		run = procs.ExecRun
	}
	return run(ctx, t.Bin, args...)
}

// ListPanes lists every pane of every session. No running server is an empty
// list, not an error.
func (t *Tmux) ListPanes(ctx context.Context) ([]Pane, error) {
	out, err := t.run(ctx, "list-panes", "-a", "-F", tmuxPaneFormat)
	if err != nil {
		msg := err.Error()
		if ctx.Err() == nil && (strings.Contains(msg, "no server running") || strings.Contains(msg, "error connecting to")) {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-panes: %w", err)
	}
	return parseTmuxPanes(string(out)), nil
}

func parseTmuxPanes(out string) []Pane {
	var panes []Pane
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := strings.SplitN(line, "\t", 11)
		if len(f) < 11 {
			muxLog.Debug("tmux_pane_line_skipped", slog.String("line", line))
			continue
		}
		id, ok := parseTmuxID(f[0], '%')
		if !ok {
			continue
		}
		tab, _ := parseTmuxID(f[1], '@')
		win, _ := parseTmuxID(f[2], '$')
		panes = append(panes, Pane{
			ID:        id,
			TabID:     tab,
			WindowID:  win,
			Workspace: f[3],
			TTY:       f[4],
			Focused:   f[5] == "1" && f[6] == "1" && f[7] != "0",
			TabTitle:  f[8],
			Cwd:       f[9],
			Title:     f[10],
		})
	}
	return panes
}

func paneTarget(id int) string { return "%" + strconv.Itoa(id) }

// Activate selects the pane's window, then the pane, and switches the
// attached client to its session.
func (t *Tmux) Activate(ctx context.Context, pane Pane) error {
	target := paneTarget(pane.ID)
	if _, err := t.run(ctx, "switch-client", "-t", target); err != nil {
		muxLog.Debug("tmux_switch_client_failed", slog.String("error", err.Error()))
	}
	if _, err := t.run(ctx, "select-window", "-t", "@"+strconv.Itoa(pane.TabID)); err != nil {
		return fmt.Errorf("tmux select-window: %w", err)
	}
	if _, err := t.run(ctx, "select-pane", "-t", target); err != nil {
		return fmt.Errorf("tmux select-pane: %w", err)
	}
	return nil
}

// SetTabTitle renames the window containing paneID. An empty title turns
// automatic renaming back on.
func (t *Tmux) SetTabTitle(ctx context.Context, paneID int, title string) error {
	target := paneTarget(paneID)
	var err error
	if title == "" {
		_, err = t.run(ctx, "set-window-option", "-t", target, "automatic-rename", "on")
	} else {
		_, err = t.run(ctx, "rename-window", "-t", target, title)
	}
	if err != nil {
		return fmt.Errorf("tmux rename-window: %w", err)
	}
	return nil
}

// Spawn opens a new window in cwd running argv and returns its pane id.
func (t *Tmux) Spawn(ctx context.Context, cwd string, argv []string) (int, error) {
	args := []string{"new-window", "-P", "-F", "#{pane_id}"}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	args = append(args, argv...)
	out, err := t.run(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("tmux new-window: %w", err)
	}
	id, ok := parseTmuxID(strings.TrimSpace(string(out)), '%')
	if !ok {
		return 0, fmt.Errorf("tmux new-window: unexpected output %q", strings.TrimSpace(string(out)))
	}
	muxLog.Info("pane_spawned", slog.Int("pane_id", id), slog.String("cwd", cwd))
	return id, nil
}

// Kill closes the pane.
func (t *Tmux) Kill(ctx context.Context, paneID int) error {
	if _, err := t.run(ctx, "kill-pane", "-t", paneTarget(paneID)); err != nil {
		if strings.Contains(err.Error(), "can't find pane") {
			return fmt.Errorf("%w: %d", ErrPaneNotFound, paneID)
		}
		return fmt.Errorf("tmux kill-pane: %w", err)
	}
	return nil
}
