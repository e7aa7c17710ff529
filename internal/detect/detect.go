// Package detect matches multiplexer panes to assistant processes.
//
// A pane is matched through its tty: every process attached to the same tty
// is a candidate. A process whose command name or arguments contain an
// allow-listed name is a direct match. Failing that, a process with a
// matching ancestor (a wrapper script that exec'd into a shell, say) is a
// wrapper match, reported against the tty-owning process.
package detect

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/ccpanes/ccpanes/internal/logging"
	"github.com/ccpanes/ccpanes/internal/mux"
	"github.com/ccpanes/ccpanes/internal/procs"
)

var detectLog = logging.ForComponent(logging.CompDetect)

// DefaultAllowList is used when no allow-list is configured.
var DefaultAllowList = []string{"claude", "anthropic"}

// Method records how a candidate was matched.
type Method string

const (
	MethodDirect  Method = "direct"
	MethodWrapper Method = "wrapper"
)

// Candidate is a pane matched to a process. PaneID is its identity; it lasts
// only as long as later passes keep reproducing the match.
type Candidate struct {
	PaneID  int    `json:"pane_id"`
	PID     int    `json:"pid"`
	Method  Method `json:"method"`
	Cwd     string `json:"cwd"`
	TTY     string `json:"tty"`
	Command string `json:"command"`
	// AncestorPID is the allow-listed ancestor for wrapper matches.
	AncestorPID int `json:"ancestor_pid,omitempty"`
}

// Detector holds the matching configuration. It has no other state, so
// Detect is a pure function of its arguments.
type Detector struct {
	allow    []string
	selfPane int
	hasSelf  bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithSelfPane excludes the pane this tool runs in from every result.
func WithSelfPane(id int) Option {
	return func(d *Detector) {
		d.selfPane = id
		d.hasSelf = true
	}
}

// New returns a Detector for allowList, lower-cased. Blank entries are
// dropped; an empty list means DefaultAllowList.
func New(allowList []string, opts ...Option) *Detector {
	d := &Detector{}
	for _, name := range allowList {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			d.allow = append(d.allow, name)
		}
	}
	if len(d.allow) == 0 {
		d.allow = append(d.allow, DefaultAllowList...)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SelfPane returns the excluded pane, if any.
func (d *Detector) SelfPane() (int, bool) { return d.selfPane, d.hasSelf }

// Matches reports whether r's command name or any argument contains an
// allow-listed name, ignoring case.
func (d *Detector) Matches(r procs.Record) bool {
	if d.containsAllowed(r.Command) {
		return true
	}
	for _, a := range r.Args {
		if d.containsAllowed(a) {
			return true
		}
	}
	return false
}

func (d *Detector) containsAllowed(s string) bool {
	if s == "" {
		return false
	}
	s = strings.ToLower(s)
	for _, name := range d.allow {
		if strings.Contains(s, name) {
			return true
		}
	}
	return false
}

// Detect returns one candidate per matched pane, ordered by pane id.
func (d *Detector) Detect(panes []mux.Pane, tree *procs.Tree) []Candidate {
	var out []Candidate
	for _, p := range panes {
		if d.hasSelf && p.ID == d.selfPane {
			continue
		}
		if c, ok := d.DetectPane(p, tree); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaneID < out[j].PaneID })
	return out
}

// DetectPane matches a single pane. Self-exclusion is applied by Detect only.
func (d *Detector) DetectPane(p mux.Pane, tree *procs.Tree) (Candidate, bool) {
	tty := p.TTYShort()
	if tty == "" || tree == nil {
		return Candidate{}, false
	}
	onTTY := tree.OnTTY(tty)
	if len(onTTY) == 0 {
		return Candidate{}, false
	}
	// Deepest first, then newest: the innermost process is the most specific.
	sort.SliceStable(onTTY, func(i, j int) bool {
		di, dj := tree.Depth(onTTY[i].PID), tree.Depth(onTTY[j].PID)
		if di != dj {
			return di > dj
		}
		return onTTY[i].PID > onTTY[j].PID
	})

	base := Candidate{PaneID: p.ID, Cwd: p.CwdPath(), TTY: tty}

	for _, r := range onTTY {
		if d.Matches(r) {
			c := base
			c.PID, c.Command, c.Method = r.PID, r.Command, MethodDirect
			detectLog.Debug("pane_matched", slog.Int("pane_id", p.ID), slog.Int("pid", r.PID), slog.String("method", string(c.Method)))
			return c, true
		}
	}
	for _, r := range onTTY {
		for _, anc := range tree.Ancestors(r.PID) {
			if d.Matches(anc) {
				c := base
				c.PID, c.Command, c.Method, c.AncestorPID = r.PID, r.Command, MethodWrapper, anc.PID
				detectLog.Debug("pane_matched", slog.Int("pane_id", p.ID), slog.Int("pid", r.PID),
					slog.String("method", string(c.Method)), slog.Int("ancestor_pid", anc.PID))
				return c, true
			}
		}
	}
	return Candidate{}, false
}
