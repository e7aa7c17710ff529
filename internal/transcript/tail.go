package transcript

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Reads of files up to fullReadLimit load everything; larger files seek to
// roughly avgLineBudget bytes per requested entry from the end.
const (
	fullReadLimit = 1 << 20
	avgLineBudget = 100 << 10
)

// maxLineSize bounds a single transcript line. Longer final lines make the
// tail unreadable rather than silently empty.
var maxLineSize = 16 << 20

// ErrMalformed marks a tail whose last line is not valid JSON.
var ErrMalformed = errors.New("malformed transcript line")

// Tail is the end of a transcript. Reading never fails hard: problems are
// recorded in Err and Malformed, and Entries is empty when either is set.
type Tail struct {
	Path      string
	Entries   []Entry
	Malformed bool
	Err       error
}

// Last returns the final entry.
func (t Tail) Last() (Entry, bool) {
	if len(t.Entries) == 0 {
		return Entry{}, false
	}
	return t.Entries[len(t.Entries)-1], true
}

// Missing reports whether the file did not exist.
func (t Tail) Missing() bool {
	return errors.Is(t.Err, fs.ErrNotExist)
}

// ReadTail parses up to the last n entries of path. Malformed lines before
// the final one are skipped; a malformed final line marks the whole tail
// malformed.
func ReadTail(path string, n int) Tail {
	t := Tail{Path: path}
	if n <= 0 {
		n = 1
	}
	lines, err := readLastLines(path, n)
	if err != nil {
		t.Err = err
		return t
	}

	entries := make([]Entry, 0, len(lines))
	for i, line := range lines {
		e, err := ParseLine(line)
		if err != nil {
			if i == len(lines)-1 {
				t.Malformed = true
				t.Err = fmt.Errorf("%w: %v", ErrMalformed, err)
				return t
			}
			continue
		}
		entries = append(entries, e)
	}
	markPending(entries)
	t.Entries = entries
	return t
}

// markPending flags tool invocations that no later tool result answers.
func markPending(entries []Entry) {
	answered := false
	for i := len(entries) - 1; i >= 0; i-- {
		switch entries[i].Kind {
		case KindToolResult:
			answered = true
		case KindToolUse:
			entries[i].PendingApproval = !answered
			answered = false
		}
	}
}

func readLastLines(path string, n int) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	// A window that lands inside one huge final line yields nothing; widen it
	// until a whole line fits or the line is too long to keep.
	window := int64(n+10) * avgLineBudget
	for {
		var offset int64
		if size > fullReadLimit && size > window {
			offset = size - window
		}
		lines, err := scanLines(f, offset, n)
		if err != nil {
			return nil, err
		}
		if len(lines) > 0 || offset == 0 {
			return lines, nil
		}
		if window > int64(maxLineSize) {
			return nil, fmt.Errorf("%w: final line exceeds %d bytes", bufio.ErrTooLong, maxLineSize)
		}
		window *= 2
	}
}

// scanLines keeps the last n non-blank lines from offset on. A line cut by
// the offset is dropped.
func scanLines(f *os.File, offset int64, n int) ([][]byte, error) {
	skipFirst := false
	if offset > 0 {
		var prev [1]byte
		if _, err := f.ReadAt(prev[:], offset-1); err != nil {
			return nil, err
		}
		skipFirst = prev[0] != '\n'
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), maxLineSize)
	var lines [][]byte
	for sc.Scan() {
		if skipFirst {
			skipFirst = false
			continue
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// LastPrompt returns the newest user-authored prompt in entries, skipping
// tool results, meta entries and reminder-only messages.
func LastPrompt(entries []Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Kind == KindUser && !e.Meta && e.Text != "" {
			return e.Text
		}
	}
	return ""
}

// LastOutput returns the newest assistant prose in entries.
func LastOutput(entries []Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if (e.Kind == KindAssistant || e.Kind == KindToolUse) && e.Text != "" {
			return e.Text
		}
	}
	return ""
}
