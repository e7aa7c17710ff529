package mux

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ccpanes/ccpanes/internal/procs"
)

// WezTerm drives `wezterm cli`.
type WezTerm struct {
	Bin string
	Run procs.RunFunc
}

// NewWezTerm returns a WezTerm using the wezterm binary on PATH.
func NewWezTerm() *WezTerm {
	return &WezTerm{Bin: "wezterm", Run: procs.ExecRun}
}

func (w *WezTerm) Name() string { return "wezterm" }

func (w *WezTerm) cli(ctx context.Context, args ...string) ([]byte, error) {
	run := w.Run
	if run == nil {
		run = procs.ExecRun
	}
	out, err := run(ctx, w.Bin, append([]string{"cli"}, args...)...)
	if err != nil {
		return out, fmt.Errorf("wezterm cli %s: %w", args[0], err)
	}
	return out, nil
}

// ListPanes runs `wezterm cli list --format json`.
func (w *WezTerm) ListPanes(ctx context.Context) ([]Pane, error) {
	out, err := w.cli(ctx, "list", "--format", "json")
	if err != nil {
		return nil, err
	}
	var panes []Pane
	if err := json.Unmarshal(out, &panes); err != nil {
		return nil, fmt.Errorf("decode wezterm pane list: %w", err)
	}
	return panes, nil
}

// Activate focuses the pane, switching tab as needed.
func (w *WezTerm) Activate(ctx context.Context, pane Pane) error {
	if _, err := w.cli(ctx, "activate-tab", "--tab-id", strconv.Itoa(pane.TabID)); err != nil {
		return err
	}
	_, err := w.cli(ctx, "activate-pane", "--pane-id", strconv.Itoa(pane.ID))
	return err
}

// SetTabTitle sets the title of the tab containing paneID. An empty title
// resets it to WezTerm's default.
func (w *WezTerm) SetTabTitle(ctx context.Context, paneID int, title string) error {
	_, err := w.cli(ctx, "set-tab-title", "--pane-id", strconv.Itoa(paneID), title)
	return err
}

// Spawn opens a new tab in cwd running argv and returns the new pane id.
func (w *WezTerm) Spawn(ctx context.Context, cwd string, argv []string) (int, error) {
	args := []string{"spawn"}
	if cwd != "" {
		args = append(args, "--cwd", cwd)
	}
	if len(argv) > 0 {
		args = append(args, "--")
		args = append(args, argv...)
	}
	out, err := w.cli(ctx, args...)
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("wezterm cli spawn: unexpected output %q", strings.TrimSpace(string(out)))
	}
	muxLog.Info("pane_spawned", slog.Int("pane_id", id), slog.String("cwd", cwd))
	return id, nil
}

// Kill closes the pane.
func (w *WezTerm) Kill(ctx context.Context, paneID int) error {
	_, err := w.cli(ctx, "kill-pane", "--pane-id", strconv.Itoa(paneID))
	if err != nil && strings.Contains(err.Error(), "not found") {
		return fmt.Errorf("%w: %d", ErrPaneNotFound, paneID)
	}
	return err
}
