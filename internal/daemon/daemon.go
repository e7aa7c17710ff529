// Package daemon keeps the refresh pipeline running, records status
// transitions and mirrors statuses into tab titles.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccpanes/ccpanes/internal/logging"
	"github.com/ccpanes/ccpanes/internal/mux"
	"github.com/ccpanes/ccpanes/internal/refresh"
	"github.com/ccpanes/ccpanes/internal/statedb"
	"github.com/ccpanes/ccpanes/internal/watch"
)

var daemonLog = logging.ForComponent(logging.CompDaemon)

const (
	// DefaultPollInterval is both the fallback poll period and the full
	// rescan period that picks up new panes.
	DefaultPollInterval = 3 * time.Second

	heartbeatInterval = 10 * time.Second
	primaryTimeout    = 30 * time.Second
	transitionMaxAge  = 30 * 24 * time.Hour
)

// Options configures a Daemon.
type Options struct {
	Engine *refresh.Engine

	// Controller sets tab titles. Nil disables titles.
	Controller mux.Controller
	SetTitles  bool
	// TitleRate caps tab title writes per second.
	TitleRate float64

	// Store persists snapshots and transitions. Nil disables persistence.
	Store *statedb.StateDB

	// Poll skips fsnotify and uses the interval poller only.
	Poll         bool
	PollInterval time.Duration
	Debounce     time.Duration

	Metrics *Metrics
	// OnChange is called with each snapshot that differs from the last.
	OnChange func(*refresh.Snapshot)

	RunID string
}

// Daemon is the long-running consumer of refresh passes.
type Daemon struct {
	opts   Options
	titles *titleKeeper

	mu      sync.Mutex
	prev    *refresh.Snapshot
	primary bool
	loop    *refresh.Loop
}

// New returns a Daemon with defaults applied.
func New(opts Options) *Daemon {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	d := &Daemon{opts: opts, primary: opts.Store == nil}
	if opts.SetTitles && opts.Controller != nil {
		d.titles = newTitleKeeper(opts.Controller, opts.TitleRate, opts.Metrics)
	}
	return d
}

// RunID identifies this daemon's rows in the state database.
func (d *Daemon) RunID() string { return d.opts.RunID }

// Metrics returns the daemon's metrics.
func (d *Daemon) Metrics() *Metrics { return d.opts.Metrics }

// Run refreshes until ctx is done. Titles changed by the daemon are restored
// before it returns.
func (d *Daemon) Run(ctx context.Context) error {
	daemonLog.Info("daemon_started", slog.String("run_id", d.opts.RunID), slog.Bool("poll", d.opts.Poll))
	d.register()
	defer d.shutdown()

	stopHeartbeat := d.startHeartbeat(ctx)
	defer stopHeartbeat()

	loopOpts := refresh.LoopOptions{
		PollInterval: d.opts.PollInterval,
		OnPass: func(snap *refresh.Snapshot, err error) {
			d.handlePass(ctx, snap, err)
		},
	}
	if sig := d.signal(); sig != nil {
		loopOpts.Signal = sig
		if _, polling := sig.(*watch.Poller); !polling {
			loopOpts.Rescan = d.opts.PollInterval
		}
	}

	loop := refresh.NewLoop(d.opts.Engine, loopOpts)
	d.mu.Lock()
	d.loop = loop
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.loop = nil
		d.mu.Unlock()
	}()

	err := loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RequestRefresh queues a full pass on the running loop. It reports false
// when Run is not active. The result reaches OnChange like any other pass.
func (d *Daemon) RequestRefresh() bool {
	d.mu.Lock()
	loop := d.loop
	d.mu.Unlock()
	if loop == nil {
		return false
	}
	loop.Request(nil)
	return true
}

// signal picks fsnotify, or the poller when asked to or when fsnotify fails.
func (d *Daemon) signal() watch.Signal {
	if !d.opts.Poll {
		w, err := watch.New(d.opts.Debounce)
		if err == nil {
			w.Start()
			return w
		}
		daemonLog.Warn("watch_setup_failed_polling", slog.String("error", err.Error()))
	}
	p := watch.NewPoller(d.opts.PollInterval)
	p.Start()
	return p
}

// SyncOnce runs a single full pass and handles it like Run would. Titles it
// writes are left in place.
func (d *Daemon) SyncOnce(ctx context.Context) (*refresh.Snapshot, error) {
	d.register()
	defer d.unregister()
	snap, err := d.opts.Engine.Refresh(ctx)
	d.handlePass(ctx, snap, err)
	return snap, err
}

func (d *Daemon) handlePass(ctx context.Context, snap *refresh.Snapshot, err error) {
	m := d.opts.Metrics
	if err != nil {
		m.Passes.WithLabelValues("error").Inc()
		daemonLog.Warn("pass_failed", slog.String("error", err.Error()))
		return
	}
	m.Passes.WithLabelValues("ok").Inc()
	m.PassSeconds.Observe(snap.Took.Seconds())
	m.LastPass.SetToCurrentTime()
	m.setCounts(snap.Counts())

	d.mu.Lock()
	prev := d.prev
	d.prev = snap
	primary := d.primary
	d.mu.Unlock()

	transitions := refresh.Diff(prev, snap)
	for _, t := range transitions {
		to := string(t.To)
		if t.Ended() {
			to = "ended"
		}
		m.Transitions.WithLabelValues(to).Inc()
		daemonLog.Info("session_transition",
			slog.Int("pane_id", t.PaneID),
			slog.String("from", string(t.From)),
			slog.String("to", to),
			slog.String("reason", string(t.Session.Reason)),
			slog.String("cwd", t.Session.Cwd))
	}

	d.persist(snap, transitions)

	if d.titles != nil && primary {
		d.titles.apply(ctx, snap)
	}

	if d.opts.OnChange != nil && (len(transitions) > 0 || !refresh.SameContent(prev, snap)) {
		d.opts.OnChange(snap)
	}
}

func (d *Daemon) persist(snap *refresh.Snapshot, transitions []refresh.Transition) {
	store := d.opts.Store
	if store == nil {
		return
	}
	if err := store.SaveSessions(SessionRows(snap, d.opts.RunID)); err != nil {
		daemonLog.Warn("store_sessions_failed", slog.String("error", err.Error()))
	}
	if err := store.RecordTransitions(TransitionRows(transitions, snap.At, d.opts.RunID)); err != nil {
		daemonLog.Warn("store_transitions_failed", slog.String("error", err.Error()))
	}
	_ = store.Touch()
}

func (d *Daemon) register() {
	store := d.opts.Store
	if store == nil {
		return
	}
	if err := store.RegisterDaemon(d.opts.RunID); err != nil {
		daemonLog.Warn("daemon_register_failed", slog.String("error", err.Error()))
	}
	d.elect()
	if n, err := store.PruneTransitions(time.Now().Add(-transitionMaxAge)); err == nil && n > 0 {
		daemonLog.Info("transitions_pruned", slog.Int64("rows", n))
	}
}

func (d *Daemon) elect() {
	store := d.opts.Store
	_ = store.CleanDeadDaemons(primaryTimeout * 4)
	primary, err := store.ElectPrimary(primaryTimeout)
	if err != nil {
		daemonLog.Warn("elect_primary_failed", slog.String("error", err.Error()))
		return
	}
	d.mu.Lock()
	changed := primary != d.primary
	d.primary = primary
	d.mu.Unlock()
	if primary {
		d.opts.Metrics.Primary.Set(1)
	} else {
		d.opts.Metrics.Primary.Set(0)
	}
	if changed {
		daemonLog.Info("primary_changed", slog.Bool("primary", primary))
	}
}

func (d *Daemon) startHeartbeat(ctx context.Context) func() {
	if d.opts.Store == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := d.opts.Store.Heartbeat(); err != nil {
					daemonLog.Debug("heartbeat_failed", slog.String("error", err.Error()))
				}
				d.elect()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (d *Daemon) shutdown() {
	if d.titles != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		d.titles.restoreAll(ctx)
		cancel()
	}
	d.unregister()
	daemonLog.Info("daemon_stopped", slog.String("run_id", d.opts.RunID))
}

func (d *Daemon) unregister() {
	if store := d.opts.Store; store != nil {
		_ = store.ResignPrimary()
		_ = store.UnregisterDaemon()
	}
}

// SessionRows converts a snapshot for storage.
func SessionRows(snap *refresh.Snapshot, runID string) []statedb.SessionRow {
	if snap == nil {
		return nil
	}
	rows := make([]statedb.SessionRow, len(snap.Sessions))
	for i, s := range snap.Sessions {
		rows[i] = statedb.SessionRow{
			PaneID:         s.PaneID,
			PID:            s.PID,
			Method:         string(s.Method),
			Cwd:            s.Cwd,
			TTY:            s.TTY,
			Workspace:      s.Workspace,
			TabID:          s.TabID,
			Title:          s.Title,
			SessionID:      s.SessionID,
			TranscriptPath: s.TranscriptPath,
			Status:         string(s.Status),
			Reason:         string(s.Reason),
			Source:         string(s.Source),
			Tools:          s.Tools,
			Branch:         s.Branch,
			Since:          s.Since,
			UpdatedAt:      snap.At,
			RunID:          runID,
		}
	}
	return rows
}

// TransitionRows converts transitions for storage.
func TransitionRows(ts []refresh.Transition, at time.Time, runID string) []statedb.TransitionRow {
	rows := make([]statedb.TransitionRow, len(ts))
	for i, t := range ts {
		rows[i] = statedb.TransitionRow{
			At:        at,
			RunID:     runID,
			PaneID:    t.PaneID,
			Cwd:       t.Session.Cwd,
			SessionID: t.Session.SessionID,
			From:      string(t.From),
			To:        string(t.To),
			Reason:    string(t.Session.Reason),
		}
	}
	return rows
}
