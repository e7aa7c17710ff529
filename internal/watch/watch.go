// Package watch turns filesystem activity on transcript and bridge files into
// coalesced refresh signals.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ccpanes/ccpanes/internal/logging"
	"github.com/ccpanes/ccpanes/internal/platform"
)

var watchLog = logging.ForComponent(logging.CompWatch)

// DefaultDebounce is the window in which a burst of writes collapses into one
// signal.
const DefaultDebounce = 100 * time.Millisecond

// ErrSetup means native change notification is unavailable for at least one
// path. The owner should fall back to a Poller.
var ErrSetup = errors.New("change watcher setup failed")

// Signal is what a refresh loop consumes: a cap-1 channel that fires once per
// batch of changes, and the set of paths touched since the last drain. A nil
// Changed result means "anything may have changed".
type Signal interface {
	C() <-chan struct{}
	Changed() []string
	Close() error
}

// Interest is the set of paths a watcher reports on. Files match exactly;
// Dirs match any file created or written directly inside them.
type Interest struct {
	Files []string
	Dirs  []string
}

// Watcher watches the parent directories of its interest set. Watching
// directories rather than files survives the rename-over writes editors and
// atomic writers use.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	files   map[string]bool
	dirs    map[string]bool
	watched map[string]bool
	pending map[string]bool
	ready   map[string]bool
	timer   *time.Timer

	ch        chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a watcher. Call Start to begin delivering signals.
func New(debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}
	return &Watcher{
		fsw:      fsw,
		debounce: debounce,
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		watched:  make(map[string]bool),
		pending:  make(map[string]bool),
		ready:    make(map[string]bool),
		ch:       make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the event loop in a goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// C fires once per debounced batch. It has capacity one; a signal that finds
// it full is dropped because the pending one already covers it.
func (w *Watcher) C() <-chan struct{} {
	return w.ch
}

// Changed returns and clears the interesting paths touched since the last
// call, sorted.
func (w *Watcher) Changed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.ready))
	for p := range w.ready {
		out = append(out, p)
	}
	w.ready = make(map[string]bool)
	sort.Strings(out)
	return out
}

// SetPaths replaces the interest set, adding and removing directory watches
// as needed. Directories that do not exist yet are skipped and retried on the
// next call. The error wraps ErrSetup when a directory could not be watched
// or sits on a filesystem without reliable notification; the watcher keeps
// serving the directories that did work.
func (w *Watcher) SetPaths(in Interest) error {
	files := make(map[string]bool, len(in.Files))
	wantDirs := make(map[string]bool)
	for _, f := range in.Files {
		if f == "" {
			continue
		}
		f = filepath.Clean(f)
		files[f] = true
		wantDirs[filepath.Dir(f)] = true
	}
	dirs := make(map[string]bool, len(in.Dirs))
	for _, d := range in.Dirs {
		if d == "" {
			continue
		}
		d = filepath.Clean(d)
		dirs[d] = true
		wantDirs[d] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = files
	w.dirs = dirs

	var errs []error
	for d := range w.watched {
		if !wantDirs[d] {
			_ = w.fsw.Remove(d)
			delete(w.watched, d)
			watchLog.Debug("watch_dir_removed", slog.String("dir", d))
		}
	}
	for d := range wantDirs {
		if w.watched[d] {
			continue
		}
		if _, err := os.Stat(d); err != nil {
			continue
		}
		if fstype := platform.UnreliableNotifyFS(d); fstype != "" {
			errs = append(errs, fmt.Errorf("%w: %s is on %s", ErrSetup, d, fstype))
			continue
		}
		if err := w.fsw.Add(d); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrSetup, d, err))
			continue
		}
		w.watched[d] = true
		watchLog.Debug("watch_dir_added", slog.String("dir", d))
	}
	return errors.Join(errs...)
}

// Watched returns the directories currently registered with the OS.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for d := range w.watched {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Close stops the loop and releases the OS watcher. Safe to call more than
// once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.note(filepath.Clean(ev.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			watchLog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) interested(path string) bool {
	return w.files[path] || w.dirs[filepath.Dir(path)]
}

// note records one event and restarts the debounce timer.
func (w *Watcher) note(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.interested(path) {
		return
	}
	logging.Aggregate(logging.CompWatch, "watch_event")
	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	for p := range w.pending {
		w.ready[p] = true
	}
	n := len(w.pending)
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.ch <- struct{}{}:
		watchLog.Debug("watch_signal", slog.Int("paths", n))
	default:
		watchLog.Debug("watch_signal_coalesced", slog.Int("paths", n))
	}
}
