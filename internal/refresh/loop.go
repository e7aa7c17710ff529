package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ccpanes/ccpanes/internal/watch"
)

// Interested is implemented by signals whose interest set follows the
// snapshot, i.e. *watch.Watcher.
type Interested interface {
	SetPaths(watch.Interest) error
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	// Signal delivers change notifications. Nil means no file watching.
	Signal watch.Signal
	// Rescan runs a full pass on this interval so new panes appear without
	// file events. Zero disables it.
	Rescan time.Duration
	// PollInterval is used for the fallback Poller when the watcher cannot
	// cover the interest set.
	PollInterval time.Duration
	// OnPass is called after every pass, successful or not, from the loop
	// goroutine.
	OnPass func(snap *Snapshot, err error)
}

// Loop is the single consumer of refresh triggers. Triggers that arrive while
// a pass runs collapse into at most one pending pass.
type Loop struct {
	engine *Engine
	opts   LoopOptions

	reqCh chan struct{}

	mu      sync.Mutex
	full    bool
	paths   map[string]bool
	polling bool
}

// NewLoop binds a loop to engine.
func NewLoop(engine *Engine, opts LoopOptions) *Loop {
	return &Loop{
		engine: engine,
		opts:   opts,
		reqCh:  make(chan struct{}, 1),
		paths:  make(map[string]bool),
	}
}

// Request queues a pass. Nil paths asks for a full pass; otherwise only the
// sessions owning paths are reclassified. A queued full pass absorbs partial
// ones.
func (l *Loop) Request(paths []string) {
	l.mu.Lock()
	if paths == nil {
		l.full = true
	} else if !l.full {
		for _, p := range paths {
			l.paths[p] = true
		}
	}
	l.mu.Unlock()

	select {
	case l.reqCh <- struct{}{}:
	default:
	}
}

// take drains the pending request.
func (l *Loop) take() (full bool, paths []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	full = l.full
	if !full {
		for p := range l.paths {
			paths = append(paths, p)
		}
		sort.Strings(paths)
	}
	l.full = false
	l.paths = make(map[string]bool)
	return full, paths
}

// Polling reports whether the loop fell back to the interval poller.
func (l *Loop) Polling() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.polling
}

// Run does a full pass, then serves triggers until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	var rescan <-chan time.Time
	if l.opts.Rescan > 0 {
		t := time.NewTicker(l.opts.Rescan)
		defer t.Stop()
		rescan = t.C
	}
	defer func() {
		if l.opts.Signal != nil {
			_ = l.opts.Signal.Close()
		}
	}()

	l.Request(nil)
	for {
		var sigC <-chan struct{}
		if l.opts.Signal != nil {
			sigC = l.opts.Signal.C()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sigC:
			l.Request(l.opts.Signal.Changed())
		case <-rescan:
			l.Request(nil)
		case <-l.reqCh:
			l.pass(ctx)
			// Every poll tick is already a full pass.
			if rescan != nil && l.Polling() {
				rescan = nil
			}
		}
	}
}

func (l *Loop) pass(ctx context.Context) {
	full, paths := l.take()
	if !full && len(paths) == 0 {
		return
	}
	var (
		snap *Snapshot
		err  error
	)
	if full {
		snap, err = l.engine.Refresh(ctx)
	} else {
		snap, err = l.engine.Reclassify(ctx, paths)
	}
	if err == nil {
		l.updateInterest()
	}
	if l.opts.OnPass != nil {
		l.opts.OnPass(snap, err)
	}
}

// updateInterest points the watcher at the current snapshot's files and
// swaps in a Poller when it cannot.
func (l *Loop) updateInterest() {
	w, ok := l.opts.Signal.(Interested)
	if !ok {
		return
	}
	err := w.SetPaths(l.engine.Interest())
	if err == nil || !errors.Is(err, watch.ErrSetup) {
		return
	}
	refreshLog.Warn("watch_setup_failed_polling", slog.String("error", err.Error()))
	_ = l.opts.Signal.Close()
	p := watch.NewPoller(l.opts.PollInterval)
	p.Start()
	l.opts.Signal = p

	l.mu.Lock()
	l.polling = true
	l.mu.Unlock()
}
