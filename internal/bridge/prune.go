package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccpanes/ccpanes/internal/procs"
)

// PruneOptions selects which records Prune removes.
type PruneOptions struct {
	// MaxAge removes records older than this. Zero disables the age check.
	MaxAge time.Duration
	// ActiveTTYs removes records for ttys not in the set. Nil disables it.
	ActiveTTYs map[string]bool
	DryRun     bool
	Now        time.Time
}

// PruneResult lists the file names removed (or that would be), by cause.
type PruneResult struct {
	Stale    []string
	Inactive []string
	Corrupt  []string
}

// Total is the number of files affected.
func (r PruneResult) Total() int {
	return len(r.Stale) + len(r.Inactive) + len(r.Corrupt)
}

// Prune deletes records that no longer describe a live session. It is a
// maintenance action run by the CLI, never by the refresh pipeline.
func Prune(dir string, opts PruneOptions) (PruneResult, error) {
	var res PruneResult
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read bridge dir: %w", err)
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		path := filepath.Join(dir, name)
		var bucket *[]string
		rec, err := readRecord(path)
		switch {
		case errors.Is(err, ErrCorrupt):
			bucket = &res.Corrupt
		case err != nil:
			continue
		case opts.MaxAge > 0 && rec.Age(opts.Now) > opts.MaxAge:
			bucket = &res.Stale
		case opts.ActiveTTYs != nil && !opts.ActiveTTYs[ttyFromFileName(name)]:
			bucket = &res.Inactive
		default:
			continue
		}
		if !opts.DryRun {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
		}
		*bucket = append(*bucket, name)
	}
	if res.Total() > 0 {
		bridgeLog.Info("bridge_pruned",
			slog.Int("stale", len(res.Stale)),
			slog.Int("inactive", len(res.Inactive)),
			slog.Int("corrupt", len(res.Corrupt)),
			slog.Bool("dry_run", opts.DryRun))
	}
	return res, errors.Join(errs...)
}

// ttyFromFileName reverses FileName for the tty layouts in use: "pts-3"
// becomes "pts/3"; names without a dash ("ttys004") are returned as is.
func ttyFromFileName(name string) string {
	base := strings.TrimSuffix(name, ".json")
	if rest, ok := strings.CutPrefix(base, "pts-"); ok {
		return "pts/" + rest
	}
	return procs.NormalizeTTY(base)
}
