// Package bridge reads the tty-keyed side-channel records written by the
// assistant's status-line hook. A record ties a terminal to the exact session
// id and transcript it is running, which the working directory alone cannot.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccpanes/ccpanes/internal/logging"
	"github.com/ccpanes/ccpanes/internal/procs"
)

var bridgeLog = logging.ForComponent(logging.CompBridge)

// WriteCadence is how often the status-line hook rewrites its record while
// a session is open.
const WriteCadence = 300 * time.Millisecond

// ErrCorrupt is returned when a record file exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt bridge record")

// Record is one bridge file.
type Record struct {
	SessionID      string    `json:"session_id"`
	TranscriptPath string    `json:"transcript_path"`
	Cwd            string    `json:"cwd"`
	TTY            string    `json:"tty"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Status is an optional activity payload: ready, processing, idle,
	// waiting (hook writers may say running for processing).
	Status string   `json:"status,omitempty"`
	Tools  []string `json:"tools,omitempty"`
	Event  string   `json:"event,omitempty"`
	// TS is a Unix-seconds alternative to UpdatedAt.
	TS int64 `json:"ts,omitempty"`
}

// Age is how long ago the record was last written.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.UpdatedAt)
}

// DefaultDir is the bridge directory under the Claude home.
func DefaultDir(claudeHome string) string {
	return filepath.Join(claudeHome, "ccpanes", "sessions")
}

// FileName maps a tty ("pts/3", "/dev/ttys004") to its record file name.
func FileName(tty string) string {
	return strings.ReplaceAll(procs.NormalizeTTY(tty), "/", "-") + ".json"
}

// Reader looks up records in Dir. It never writes.
type Reader struct {
	Dir string
}

// Path is the record file for tty.
func (r Reader) Path(tty string) string {
	return filepath.Join(r.Dir, FileName(tty))
}

// Lookup returns the record for tty. A missing file is (nil, nil): no bridge
// is installed, or the session has not written yet. A corrupt file is also
// reported as absent, with ErrCorrupt so the caller can log it.
func (r Reader) Lookup(tty string) (*Record, error) {
	if r.Dir == "" || procs.NormalizeTTY(tty) == "" {
		return nil, nil
	}
	rec, err := readRecord(r.Path(tty))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		bridgeLog.Debug("bridge_record_unreadable", slog.String("tty", tty), slog.String("error", err.Error()))
		return nil, err
	}
	return rec, nil
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, filepath.Base(path), err)
	}
	if rec.UpdatedAt.IsZero() && rec.TS > 0 {
		rec.UpdatedAt = time.Unix(rec.TS, 0)
	}
	if rec.UpdatedAt.IsZero() {
		if info, err := os.Stat(path); err == nil {
			rec.UpdatedAt = info.ModTime()
		}
	}
	return &rec, nil
}
