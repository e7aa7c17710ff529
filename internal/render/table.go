package render

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"

	"github.com/ccpanes/ccpanes/internal/refresh"
	"github.com/ccpanes/ccpanes/internal/status"
)

// Options controls table output.
type Options struct {
	// Theme is "dark" or "light"; resolve "system" before rendering.
	Theme   string
	Profile termenv.Profile
	// Width is the terminal width; 0 means 120.
	Width   int
	Verbose bool
	// Home shortens paths under it to ~.
	Home string
	Now  func() time.Time
}

type column struct {
	title string
	min   int
}

// Table writes sessions as an aligned table followed by a count summary.
func Table(w io.Writer, snap *refresh.Snapshot, opts Options) error {
	if opts.Width <= 0 {
		opts.Width = 120
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	pal := paletteFor(opts.Theme)
	r := newRenderer(w, opts.Profile, opts.Theme)
	dim := r.NewStyle().Foreground(pal.TextDim)
	head := r.NewStyle().Foreground(pal.Accent).Bold(true)
	branch := r.NewStyle().Foreground(pal.Purple)

	var sessions []refresh.Session
	if snap != nil {
		sessions = snap.Sessions
	}
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, dim.Render("no assistant sessions found"))
		return err
	}

	cols := []column{{"", 1}, {"STATUS", 10}, {"PANE", 4}, {"BRANCH", 6}, {"SINCE", 5}, {"CWD", 12}}
	rows := make([][]string, len(sessions))
	for i, s := range sessions {
		rows[i] = []string{
			s.Status.Icon(),
			s.Status.Label(),
			strconv.Itoa(s.PaneID),
			s.Branch,
			Since(s.Since, opts.Now()),
			ShortPath(s.Cwd, opts.Home),
		}
	}
	widths := columnWidths(cols, rows, opts.Width)

	var b strings.Builder
	for i, c := range cols {
		b.WriteString(head.Render(runewidth.FillRight(c.title, widths[i])))
		b.WriteString(sep(i, len(cols)))
	}
	b.WriteByte('\n')

	for i, s := range sessions {
		st := r.NewStyle().Foreground(pal.statusColor(s.Status))
		for j, cell := range rows[i] {
			cell = runewidth.FillRight(Truncate(cell, widths[j]), widths[j])
			switch j {
			case 0, 1:
				cell = st.Render(cell)
			case 3:
				cell = branch.Render(cell)
			case 4:
				cell = dim.Render(cell)
			}
			b.WriteString(cell)
			b.WriteString(sep(j, len(cols)))
		}
		b.WriteByte('\n')

		indent := strings.Repeat(" ", widths[0]+2)
		inner := opts.Width - len(indent) - 10
		if len(s.Tools) > 0 {
			b.WriteString(indent + dim.Render("tools: "+Truncate(strings.Join(s.Tools, ", "), inner)) + "\n")
		}
		if hint := s.Reason.Hint(); hint != "" {
			b.WriteString(indent + dim.Render(Truncate(hint, inner)) + "\n")
		}
		if opts.Verbose {
			if s.LastPrompt != "" {
				b.WriteString(indent + dim.Render("> "+Truncate(oneLine(s.LastPrompt), inner)) + "\n")
			}
			if s.LastOutput != "" {
				b.WriteString(indent + dim.Render("< "+Truncate(oneLine(s.LastOutput), inner)) + "\n")
			}
		}
	}

	b.WriteByte('\n')
	b.WriteString(summary(r, pal, snap))
	b.WriteByte('\n')
	if snap.Incomplete {
		b.WriteString(dim.Render("process scan was incomplete; some sessions may be missing") + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// summary is the "N sessions" line with a count per present status.
func summary(r *lipgloss.Renderer, pal palette, snap *refresh.Snapshot) string {
	counts := snap.Counts()
	parts := []string{fmt.Sprintf("%d %s", len(snap.Sessions), plural(len(snap.Sessions), "session"))}
	for _, st := range status.All {
		if n := counts[st]; n > 0 {
			style := r.NewStyle().Foreground(pal.statusColor(st))
			parts = append(parts, style.Render(fmt.Sprintf("%s %d %s", st.Icon(), n, strings.ToLower(st.Label()))))
		}
	}
	return strings.Join(parts, "  ")
}

// columnWidths sizes every column to its content and gives the last column
// whatever the terminal has left.
func columnWidths(cols []column, rows [][]string, total int) []int {
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = max(c.min, runewidth.StringWidth(c.title))
		for _, row := range rows {
			widths[i] = max(widths[i], runewidth.StringWidth(row[i]))
		}
	}
	last := len(cols) - 1
	used := 0
	for i := 0; i < last; i++ {
		used += widths[i] + 2
	}
	if room := total - used; room < widths[last] {
		widths[last] = max(cols[last].min, room)
	}
	return widths
}

func sep(i, n int) string {
	if i == n-1 {
		return ""
	}
	return "  "
}

// Truncate cuts s to width display cells, ending in "…" when shortened.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// ShortPath replaces a home directory prefix with ~.
func ShortPath(p, home string) string {
	if home == "" || p == "" {
		return p
	}
	if p == home {
		return "~"
	}
	if rel, ok := strings.CutPrefix(p, home+string(filepath.Separator)); ok {
		return "~" + string(filepath.Separator) + rel
	}
	return p
}

// Since formats the age of t in its largest unit: 45s, 12m, 3h, 2d.
func Since(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", max(0, int(d/time.Second)))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// Stdout is a convenience for the CLI: table options sized and colored for
// the process's stdout.
func Stdout(theme string, verbose bool) Options {
	home, _ := os.UserHomeDir()
	return Options{
		Theme:   theme,
		Profile: ColorProfile(os.Stdout, os.Getenv),
		Width:   TerminalWidth(os.Stdout, 120),
		Verbose: verbose,
		Home:    home,
	}
}
