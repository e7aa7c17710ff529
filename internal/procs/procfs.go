package procs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ccpanes/ccpanes/internal/platform"
)

// ProcFS reads /proc directly, avoiding a fork per refresh on Linux.
type ProcFS struct {
	Root string
}

// NewProcFS returns a source reading /proc.
func NewProcFS() *ProcFS { return &ProcFS{Root: "/proc"} }

// ListProcesses scans Root. Processes that exit mid-scan are skipped quietly;
// entries that cannot be read for any other reason make the result partial.
func (p *ProcFS) ListProcesses(ctx context.Context) ([]Record, error) {
	root := p.Root
	if root == "" {
		root = "/proc"
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}

	var records []Record
	denied := 0
	for i, e := range entries {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue
		}
		rec, err := readProc(filepath.Join(root, e.Name()), pid)
		switch {
		case err == nil:
			records = append(records, rec)
		case errors.Is(err, fs.ErrNotExist):
		default:
			denied++
		}
	}
	if denied > 0 {
		return records, fmt.Errorf("%w: %d entries unreadable", ErrScanIncomplete, denied)
	}
	return records, nil
}

func readProc(dir string, pid int) (Record, error) {
	stat, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return Record{}, err
	}
	comm, ppid, ttyNr, err := parseStat(string(stat))
	if err != nil {
		return Record{}, err
	}
	rec := Record{PID: pid, PPID: ppid, Command: comm, TTY: ttyName(ttyNr)}
	if cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline")); err == nil {
		for _, a := range strings.Split(string(cmdline), "\x00") {
			if a != "" {
				rec.Args = append(rec.Args, a)
			}
		}
	}
	return rec, nil
}

// parseStat extracts comm, ppid and tty_nr from /proc/<pid>/stat. comm is
// wrapped in parens and may itself contain ") ", so the last ')' ends it.
func parseStat(stat string) (comm string, ppid, ttyNr int, err error) {
	l := strings.IndexByte(stat, '(')
	r := strings.LastIndexByte(stat, ')')
	if l < 0 || r <= l || r+2 > len(stat) {
		return "", 0, 0, fmt.Errorf("malformed stat %q", stat)
	}
	comm = stat[l+1 : r]
	// after comm: state ppid pgrp session tty_nr ...
	rest := strings.Fields(stat[r+1:])
	if len(rest) < 5 {
		return "", 0, 0, fmt.Errorf("short stat %q", stat)
	}
	if ppid, err = strconv.Atoi(rest[1]); err != nil {
		return "", 0, 0, err
	}
	if ttyNr, err = strconv.Atoi(rest[4]); err != nil {
		return "", 0, 0, err
	}
	return comm, ppid, ttyNr, nil
}

// ttyName decodes a Linux tty_nr device number into the name ps would print.
func ttyName(nr int) string {
	if nr == 0 {
		return ""
	}
	major := (nr >> 8) & 0xfff
	minor := (nr & 0xff) | ((nr >> 12) & 0xfff00)
	switch {
	case major >= 136 && major <= 143:
		return "pts/" + strconv.Itoa((major-136)*256+minor)
	case major == 4 && minor < 64:
		return "tty" + strconv.Itoa(minor)
	case major == 4:
		return "ttyS" + strconv.Itoa(minor-64)
	}
	return ""
}

// NewSource picks a process source by name: "ps", "procfs", or "auto"
// (procfs when the host has a usable /proc, ps otherwise).
func NewSource(kind string) Source {
	switch kind {
	case "ps":
		return NewPS()
	case "procfs":
		return NewProcFS()
	}
	if platform.HasProcFS() {
		return NewProcFS()
	}
	return NewPS()
}
