// Package mux talks to the terminal multiplexer: it lists panes and performs
// the few control actions the CLI and daemon need.
package mux

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ccpanes/ccpanes/internal/logging"
	"github.com/ccpanes/ccpanes/internal/procs"
)

var muxLog = logging.ForComponent(logging.CompMux)

// ErrPaneNotFound is returned by control actions targeting a pane id the
// multiplexer does not know.
var ErrPaneNotFound = errors.New("pane not found")

// Pane is one multiplexer viewport. JSON tags follow `wezterm cli list
// --format json` so that output decodes directly.
type Pane struct {
	ID        int    `json:"pane_id"`
	TabID     int    `json:"tab_id"`
	WindowID  int    `json:"window_id"`
	Workspace string `json:"workspace"`
	Title     string `json:"title"`
	Cwd       string `json:"cwd"`
	TTY       string `json:"tty_name"`
	Focused   bool   `json:"is_active"`
	TabTitle  string `json:"tab_title,omitempty"`
}

// TTYShort is the tty without its /dev/ prefix, the key processes are
// indexed by.
func (p Pane) TTYShort() string {
	return procs.NormalizeTTY(p.TTY)
}

// CwdPath returns Cwd as a filesystem path. WezTerm reports file:// URIs,
// possibly with a hostname and percent-escapes.
func (p Pane) CwdPath() string {
	if !strings.HasPrefix(p.Cwd, "file://") {
		return p.Cwd
	}
	u, err := url.Parse(p.Cwd)
	if err != nil {
		return strings.TrimPrefix(p.Cwd, "file://")
	}
	if u.Path == "" {
		return "/"
	}
	return filepath.Clean(u.Path)
}

// Source lists panes. One call per refresh; the result is a full snapshot.
type Source interface {
	ListPanes(ctx context.Context) ([]Pane, error)
}

// Controller performs actions on panes.
type Controller interface {
	Activate(ctx context.Context, pane Pane) error
	SetTabTitle(ctx context.Context, paneID int, title string) error
	Spawn(ctx context.Context, cwd string, argv []string) (int, error)
	Kill(ctx context.Context, paneID int) error
}

// Multiplexer is a Source that can also be controlled.
type Multiplexer interface {
	Source
	Controller
	Name() string
}

// New returns the multiplexer named by kind ("wezterm", "tmux" or "auto").
// "auto" looks at the environment the way a shell inside either would see it.
func New(kind string, getenv func(string) string) Multiplexer {
	switch kind {
	case "tmux":
		return NewTmux()
	case "wezterm":
		return NewWezTerm()
	}
	if getenv("WEZTERM_PANE") == "" && getenv("TMUX") != "" {
		return NewTmux()
	}
	return NewWezTerm()
}

// SelfPane returns the pane this process runs in, from WEZTERM_PANE or
// TMUX_PANE ("%12").
func SelfPane(getenv func(string) string) (int, bool) {
	if v := getenv("WEZTERM_PANE"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			return id, true
		}
	}
	if v := getenv("TMUX_PANE"); v != "" {
		if id, ok := parseTmuxID(v, '%'); ok {
			return id, true
		}
	}
	return 0, false
}

// FindPane returns the pane with id.
func FindPane(panes []Pane, id int) (Pane, bool) {
	for _, p := range panes {
		if p.ID == id {
			return p, true
		}
	}
	return Pane{}, false
}

func parseTmuxID(s string, sigil byte) (int, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != sigil {
		return 0, false
	}
	id, err := strconv.Atoi(s[1:])
	if err != nil {
		return 0, false
	}
	return id, true
}
