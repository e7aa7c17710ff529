// Package procs snapshots the OS process table into an immutable tree keyed
// by pid, with a per-tty index for joining against multiplexer panes.
package procs

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// MaxDepth bounds ancestor walks. Process tables can be inconsistent
// (pid reuse mid-scan, ppid loops), so no walk may assume it terminates.
const MaxDepth = 64

// ErrScanIncomplete is returned together with a partial record list when
// some entries could not be read. Callers may keep using the partial list.
var ErrScanIncomplete = errors.New("process scan incomplete")

// Source lists the processes currently running.
type Source interface {
	ListProcesses(ctx context.Context) ([]Record, error)
}

// Record is one row of the process table.
type Record struct {
	PID     int      `json:"pid"`
	PPID    int      `json:"ppid"`
	TTY     string   `json:"tty,omitempty"` // short form ("pts/3", "ttys004"); empty means none
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// CommandLine joins Args, or returns Command when no args were captured.
func (r Record) CommandLine() string {
	if len(r.Args) == 0 {
		return r.Command
	}
	return strings.Join(r.Args, " ")
}

// NormalizeTTY converts a tty as reported by ps, /proc or a multiplexer into
// the short form used as the join key. "?", "??", "-" and "" mean no tty.
func NormalizeTTY(tty string) string {
	tty = strings.TrimSpace(tty)
	tty = strings.TrimPrefix(tty, "/dev/")
	switch tty {
	case "", "?", "??", "-":
		return ""
	}
	return tty
}

// Tree is a pid-keyed arena. Parent links are pids, never pointers, and a
// Tree is never modified after Build.
type Tree struct {
	procs map[int]Record
	byTTY map[string][]int
	depth map[int]int
}

// Build indexes records. Later duplicates of a pid replace earlier ones.
func Build(records []Record) *Tree {
	t := &Tree{
		procs: make(map[int]Record, len(records)),
		byTTY: make(map[string][]int),
		depth: make(map[int]int, len(records)),
	}
	for _, r := range records {
		r.TTY = NormalizeTTY(r.TTY)
		t.procs[r.PID] = r
	}
	for pid, r := range t.procs {
		if r.TTY != "" {
			t.byTTY[r.TTY] = append(t.byTTY[r.TTY], pid)
		}
	}
	for tty := range t.byTTY {
		sort.Ints(t.byTTY[tty])
	}
	for pid := range t.procs {
		t.depth[pid] = len(t.Ancestors(pid))
	}
	return t
}

// Len is the number of processes.
func (t *Tree) Len() int { return len(t.procs) }

// Get returns the record for pid.
func (t *Tree) Get(pid int) (Record, bool) {
	r, ok := t.procs[pid]
	return r, ok
}

// Parent returns pid's parent if it is in the snapshot.
func (t *Tree) Parent(pid int) (Record, bool) {
	r, ok := t.procs[pid]
	if !ok || r.PPID == pid {
		return Record{}, false
	}
	return t.Get(r.PPID)
}

// OnTTY returns the processes attached to tty, ordered by pid.
func (t *Tree) OnTTY(tty string) []Record {
	pids := t.byTTY[NormalizeTTY(tty)]
	out := make([]Record, 0, len(pids))
	for _, pid := range pids {
		out = append(out, t.procs[pid])
	}
	return out
}

// TTYs lists every tty that has at least one process.
func (t *Tree) TTYs() []string {
	out := make([]string, 0, len(t.byTTY))
	for tty := range t.byTTY {
		out = append(out, tty)
	}
	sort.Strings(out)
	return out
}

// Ancestors returns pid's parent, grandparent and so on, nearest first.
// The walk stops at a missing parent, a repeated pid, or MaxDepth.
func (t *Tree) Ancestors(pid int) []Record {
	var out []Record
	seen := map[int]bool{pid: true}
	cur := pid
	for len(out) < MaxDepth {
		p, ok := t.Parent(cur)
		if !ok || seen[p.PID] {
			break
		}
		seen[p.PID] = true
		out = append(out, p)
		cur = p.PID
	}
	return out
}

// Depth is the number of ancestors of pid present in the snapshot.
func (t *Tree) Depth(pid int) int {
	return t.depth[pid]
}
