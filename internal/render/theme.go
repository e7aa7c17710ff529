// Package render draws sessions as a colored terminal table.
package render

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/ccpanes/ccpanes/internal/status"
)

// palette is the subset of the Tokyo Night colors the table uses.
type palette struct {
	Text, TextDim, Accent, Border lipgloss.Color
	Green, Yellow, Orange, Red    lipgloss.Color
	Cyan, Purple                  lipgloss.Color
}

var darkPalette = palette{
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Border:  lipgloss.Color("#414868"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Orange:  lipgloss.Color("#ff9e64"),
	Red:     lipgloss.Color("#f7768e"),
	Cyan:    lipgloss.Color("#7dcfff"),
	Purple:  lipgloss.Color("#bb9af7"),
}

var lightPalette = palette{
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Border:  lipgloss.Color("#9699a3"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Orange:  lipgloss.Color("#965027"),
	Red:     lipgloss.Color("#8c4351"),
	Cyan:    lipgloss.Color("#166775"),
	Purple:  lipgloss.Color("#7847bd"),
}

func paletteFor(theme string) palette {
	if theme == "light" {
		return lightPalette
	}
	return darkPalette
}

// statusColor keeps attention-worthy states warm: waiting is the one a user
// has to act on.
func (p palette) statusColor(s status.Status) lipgloss.Color {
	switch s {
	case status.Processing:
		return p.Accent
	case status.Waiting:
		return p.Orange
	case status.Idle:
		return p.Green
	case status.Ready:
		return p.Cyan
	}
	return p.Red
}

// ColorProfile picks the color profile for out. CCPANES_COLOR overrides
// (truecolor, 256, 16, none); NO_COLOR and non-terminals get plain text.
func ColorProfile(out *os.File, getenv func(string) string) termenv.Profile {
	switch strings.ToLower(getenv("CCPANES_COLOR")) {
	case "truecolor", "true", "24bit":
		return termenv.TrueColor
	case "256", "ansi256":
		return termenv.ANSI256
	case "16", "ansi", "basic":
		return termenv.ANSI
	case "none", "off", "ascii":
		return termenv.Ascii
	}
	if getenv("NO_COLOR") != "" || out == nil || !term.IsTerminal(int(out.Fd())) {
		return termenv.Ascii
	}
	switch getenv("COLORTERM") {
	case "truecolor", "24bit":
		return termenv.TrueColor
	}
	t := getenv("TERM")
	for _, known := range []string{"256color", "direct", "alacritty", "kitty", "wezterm"} {
		if strings.Contains(t, known) {
			return termenv.TrueColor
		}
	}
	return termenv.ANSI256
}

// TerminalWidth is the column count of out, or fallback when it is not a
// terminal.
func TerminalWidth(out *os.File, fallback int) int {
	if out != nil {
		if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return fallback
}

func newRenderer(w io.Writer, profile termenv.Profile, theme string) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)
	r.SetHasDarkBackground(theme != "light")
	return r
}
