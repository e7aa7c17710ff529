package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ccpanes/ccpanes/internal/logging"
	"github.com/ccpanes/ccpanes/internal/mux"
	"github.com/ccpanes/ccpanes/internal/refresh"
)

const defaultTitleRate = 5

// TabTitle is the title shown for a session: its status icon and the
// basename of its working directory.
func TabTitle(s refresh.Session) string {
	name := filepath.Base(s.Cwd)
	if s.Cwd == "" || name == "." {
		name = "claude"
	}
	return s.Status.Icon() + " " + name
}

// titleKeeper writes tab titles and remembers what each tab was called
// before, so it can put the name back when the session goes away.
type titleKeeper struct {
	ctrl    mux.Controller
	limiter *rate.Limiter
	metrics *Metrics

	mu       sync.Mutex
	original map[int]string // pane id -> tab title before our first write
	written  map[int]string // pane id -> last title we wrote
}

func newTitleKeeper(ctrl mux.Controller, perSec float64, m *Metrics) *titleKeeper {
	if perSec <= 0 {
		perSec = defaultTitleRate
	}
	return &titleKeeper{
		ctrl:     ctrl,
		limiter:  rate.NewLimiter(rate.Limit(perSec), int(perSec)+1),
		metrics:  m,
		original: make(map[int]string),
		written:  make(map[int]string),
	}
}

func (k *titleKeeper) apply(ctx context.Context, snap *refresh.Snapshot) {
	if snap == nil {
		return
	}
	for _, s := range snap.Sessions {
		title := TabTitle(s)
		k.mu.Lock()
		last, seen := k.written[s.PaneID]
		if !seen {
			k.original[s.PaneID] = s.Pane().TabTitle
		}
		k.mu.Unlock()
		if seen && last == title {
			continue
		}
		if k.set(ctx, s.PaneID, title) {
			k.mu.Lock()
			k.written[s.PaneID] = title
			k.mu.Unlock()
		}
	}

	// Sessions that ended get their title back if the pane is still open.
	k.mu.Lock()
	var gone []int
	for id := range k.written {
		if _, ok := snap.Find(id); !ok {
			gone = append(gone, id)
		}
	}
	k.mu.Unlock()
	sort.Ints(gone)
	panes := snap.Panes()
	for _, id := range gone {
		if _, open := mux.FindPane(panes, id); open {
			k.restore(ctx, id)
		} else {
			k.forget(id)
		}
	}
}

func (k *titleKeeper) set(ctx context.Context, paneID int, title string) bool {
	if err := k.limiter.Wait(ctx); err != nil {
		return false
	}
	if err := k.ctrl.SetTabTitle(ctx, paneID, title); err != nil {
		k.metrics.TitleWrites.WithLabelValues("error").Inc()
		logging.Aggregate(logging.CompDaemon, "title_write_failed",
			slog.Int("pane_id", paneID), slog.String("error", err.Error()))
		return false
	}
	k.metrics.TitleWrites.WithLabelValues("ok").Inc()
	return true
}

func (k *titleKeeper) restore(ctx context.Context, paneID int) {
	k.mu.Lock()
	orig := k.original[paneID]
	k.mu.Unlock()
	k.set(ctx, paneID, orig)
	k.forget(paneID)
}

func (k *titleKeeper) forget(paneID int) {
	k.mu.Lock()
	delete(k.original, paneID)
	delete(k.written, paneID)
	k.mu.Unlock()
}

func (k *titleKeeper) restoreAll(ctx context.Context) {
	k.mu.Lock()
	ids := make([]int, 0, len(k.written))
	for id := range k.written {
		ids = append(ids, id)
	}
	k.mu.Unlock()
	sort.Ints(ids)
	for _, id := range ids {
		k.restore(ctx, id)
	}
	if len(ids) > 0 {
		daemonLog.Info("titles_restored", slog.Int("count", len(ids)))
	}
}
