package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Write stores rec atomically under dir, stamping UpdatedAt. It backs the
// `bridge-write` status-line hook; the refresh pipeline only reads.
func Write(dir string, rec Record, now time.Time) error {
	if rec.TTY == "" {
		return fmt.Errorf("bridge record without tty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bridge dir: %w", err)
	}
	rec.UpdatedAt = now.UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".bridge-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, FileName(rec.TTY)))
}
