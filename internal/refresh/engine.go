// Package refresh runs the detection and classification pipeline and keeps
// the last good snapshot of sessions.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ccpanes/ccpanes/internal/bridge"
	"github.com/ccpanes/ccpanes/internal/detect"
	"github.com/ccpanes/ccpanes/internal/git"
	"github.com/ccpanes/ccpanes/internal/logging"
	"github.com/ccpanes/ccpanes/internal/mux"
	"github.com/ccpanes/ccpanes/internal/procs"
	"github.com/ccpanes/ccpanes/internal/status"
	"github.com/ccpanes/ccpanes/internal/transcript"
	"github.com/ccpanes/ccpanes/internal/watch"
)

var refreshLog = logging.ForComponent(logging.CompRefresh)

// ErrDataSourceUnavailable means the pane or process listing failed or timed
// out. The previous snapshot stays current.
var ErrDataSourceUnavailable = errors.New("data source unavailable")

const (
	DefaultTimeout     = 2 * time.Second
	DefaultWorkers     = 8
	DefaultTailEntries = 64
)

// Options wires an Engine to its sources.
type Options struct {
	Panes    mux.Source
	Procs    procs.Source
	Detector *detect.Detector
	Bridge   bridge.Reader

	// ProjectsRoot is the transcript root, usually ~/.claude/projects.
	ProjectsRoot string
	Policy       status.Policy
	TailEntries  int

	// Timeout bounds the pane and process listing calls.
	Timeout time.Duration
	Workers int

	// Branches enables git branch lookup when set.
	Branches *git.BranchCache

	// Detail fills LastPrompt and LastOutput.
	Detail bool

	// Workspace restricts sessions to one workspace. CurrentWorkspace
	// instead uses the workspace of the detector's self pane, if it has one.
	Workspace        string
	CurrentWorkspace bool

	Now func() time.Time
}

// Engine runs passes. Passes never overlap, and concurrent Refresh callers
// share one pass.
type Engine struct {
	opts Options

	sf      singleflight.Group
	passMu  sync.Mutex
	passSeq atomic.Uint64
	current atomic.Pointer[Snapshot]
}

// New returns an Engine with defaults applied to opts.
func New(opts Options) *Engine {
	if opts.Detector == nil {
		opts.Detector = detect.New(nil)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.TailEntries <= 0 {
		opts.TailEntries = DefaultTailEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{opts: opts}
}

// Snapshot returns the last good snapshot, or nil before the first
// successful pass.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

// Refresh runs a full pass: list panes and processes, detect, classify. On a
// listing failure the error wraps ErrDataSourceUnavailable and the returned
// snapshot is the previous one.
func (e *Engine) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, shared := e.sf.Do("refresh", func() (any, error) {
		e.passMu.Lock()
		defer e.passMu.Unlock()
		return e.fullPass(ctx)
	})
	if shared {
		refreshLog.Debug("refresh_shared")
	}
	snap, _ := v.(*Snapshot)
	return snap, err
}

// Reclassify re-reads transcripts and bridge records for the sessions that
// own any of paths, keeping the last candidate set. It falls back to a full
// pass when there is no snapshot yet.
func (e *Engine) Reclassify(ctx context.Context, paths []string) (*Snapshot, error) {
	if e.Snapshot() == nil {
		return e.Refresh(ctx)
	}
	e.passMu.Lock()
	defer e.passMu.Unlock()
	start := time.Now()

	prev := e.Snapshot()
	touched := make(map[string]bool, len(paths))
	for _, p := range paths {
		touched[filepath.Clean(p)] = true
	}

	now := e.opts.Now()
	next := &Snapshot{
		Pass:       e.passSeq.Add(1),
		At:         now,
		Workspace:  prev.Workspace,
		Incomplete: prev.Incomplete,
		Sessions:   make([]Session, len(prev.Sessions)),
		panes:      prev.panes,
	}
	copy(next.Sessions, prev.Sessions)

	var idx []int
	for i, s := range prev.Sessions {
		if e.owns(s, touched) {
			idx = append(idx, i)
		}
	}
	e.enrichAll(ctx, next.Sessions, idx, now)
	next.Took = time.Since(start)
	e.current.Store(next)
	refreshLog.Debug("reclassify_done", slog.Uint64("pass", next.Pass), slog.Int("sessions", len(idx)))
	return next, nil
}

// owns reports whether any touched path affects s. Sessions without a known
// session id follow the newest transcript in their project directory, so any
// transcript there counts.
func (e *Engine) owns(s Session, touched map[string]bool) bool {
	if touched[s.TranscriptPath] || touched[s.BridgePath] {
		return true
	}
	if s.SessionID != "" {
		return false
	}
	dir := transcript.ProjectDir(e.opts.ProjectsRoot, s.Cwd)
	for p := range touched {
		if filepath.Dir(p) == dir {
			return true
		}
	}
	return false
}

// Interest is the set of paths a watcher should report on for the current
// snapshot.
func (e *Engine) Interest() watch.Interest {
	var in watch.Interest
	snap := e.Snapshot()
	if snap == nil {
		return in
	}
	dirs := make(map[string]bool)
	for _, s := range snap.Sessions {
		if s.TranscriptPath != "" {
			in.Files = append(in.Files, s.TranscriptPath)
		}
		if s.BridgePath != "" {
			in.Files = append(in.Files, s.BridgePath)
		}
		if s.SessionID == "" && e.opts.ProjectsRoot != "" {
			dirs[transcript.ProjectDir(e.opts.ProjectsRoot, s.Cwd)] = true
		}
	}
	for d := range dirs {
		in.Dirs = append(in.Dirs, d)
	}
	sort.Strings(in.Files)
	sort.Strings(in.Dirs)
	return in
}

func (e *Engine) fullPass(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	panes, records, incomplete, err := e.list(ctx)
	if err != nil {
		refreshLog.Warn("refresh_failed", slog.String("error", err.Error()))
		return e.Snapshot(), err
	}

	tree := procs.Build(records)
	workspace := e.workspace(panes)
	visible := panes
	if workspace != "" {
		visible = make([]mux.Pane, 0, len(panes))
		for _, p := range panes {
			if p.Workspace == workspace {
				visible = append(visible, p)
			}
		}
	}

	cands := e.opts.Detector.Detect(visible, tree)
	now := e.opts.Now()
	snap := &Snapshot{
		Pass:       e.passSeq.Add(1),
		At:         now,
		Workspace:  workspace,
		Incomplete: incomplete,
		Sessions:   make([]Session, len(cands)),
		panes:      panes,
	}
	idx := make([]int, len(cands))
	for i, c := range cands {
		p, _ := mux.FindPane(visible, c.PaneID)
		snap.Sessions[i] = Session{
			Candidate: c,
			TabID:     p.TabID,
			WindowID:  p.WindowID,
			Workspace: p.Workspace,
			Title:     p.Title,
			Focused:   p.Focused,
			pane:      p,
		}
		idx[i] = i
	}
	e.enrichAll(ctx, snap.Sessions, idx, now)
	snap.Took = time.Since(start)

	e.current.Store(snap)
	refreshLog.Debug("refresh_done",
		slog.Uint64("pass", snap.Pass),
		slog.Int("panes", len(panes)),
		slog.Int("processes", tree.Len()),
		slog.Int("sessions", len(snap.Sessions)),
		slog.Duration("took", time.Since(start)))
	return snap, nil
}

// list fetches panes and processes concurrently under the listing timeout.
func (e *Engine) list(ctx context.Context) ([]mux.Pane, []procs.Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	var (
		panes      []mux.Pane
		records    []procs.Record
		incomplete bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		panes, err = e.opts.Panes.ListPanes(gctx)
		if err != nil {
			return fmt.Errorf("%w: list panes: %w", ErrDataSourceUnavailable, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		records, err = e.opts.Procs.ListProcesses(gctx)
		switch {
		case errors.Is(err, procs.ErrScanIncomplete):
			refreshLog.Warn("process_scan_incomplete", slog.String("error", err.Error()), slog.Int("records", len(records)))
			incomplete = true
		case err != nil:
			return fmt.Errorf("%w: list processes: %w", ErrDataSourceUnavailable, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, false, err
	}
	return panes, records, incomplete, nil
}

func (e *Engine) workspace(panes []mux.Pane) string {
	if e.opts.Workspace != "" {
		return e.opts.Workspace
	}
	if !e.opts.CurrentWorkspace {
		return ""
	}
	self, ok := e.opts.Detector.SelfPane()
	if !ok {
		return ""
	}
	p, ok := mux.FindPane(panes, self)
	if !ok {
		return ""
	}
	return p.Workspace
}

// enrichAll classifies sessions[i] for each i in idx, in parallel.
func (e *Engine) enrichAll(ctx context.Context, sessions []Session, idx []int, now time.Time) {
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for _, i := range idx {
		g.Go(func() error {
			sessions[i] = e.enrich(ctx, sessions[i], now)
			return nil
		})
	}
	_ = g.Wait()
}

// enrich never fails: any problem degrades this one session to Unknown.
func (e *Engine) enrich(ctx context.Context, s Session, now time.Time) (out Session) {
	defer func() {
		if r := recover(); r != nil {
			refreshLog.Error("enrich_panic", slog.Int("pane_id", s.PaneID), slog.Any("panic", r))
			out = s
			out.Status, out.Reason, out.Source = status.Unknown, status.ReasonUnrecognized, status.SourceTranscript
		}
	}()

	policy := e.opts.Policy
	if policy.WaitingAfter <= 0 || policy.BridgeFreshness <= 0 {
		def := status.DefaultPolicy()
		if policy.WaitingAfter <= 0 {
			policy.WaitingAfter = def.WaitingAfter
		}
		if policy.BridgeFreshness <= 0 {
			policy.BridgeFreshness = def.BridgeFreshness
		}
	}

	var rec *bridge.Record
	if e.opts.Bridge.Dir != "" {
		s.BridgePath = e.opts.Bridge.Path(s.TTY)
		r, err := e.opts.Bridge.Lookup(s.TTY)
		if err != nil {
			logging.Aggregate(logging.CompBridge, "bridge_record_corrupt", slog.String("tty", s.TTY))
		}
		rec = r
	}
	s.HasBridge = rec != nil

	var tail transcript.Tail
	s.SessionID, s.TranscriptPath = "", ""
	stale := rec != nil && rec.Age(now) > policy.BridgeFreshness
	if !stale {
		if rec != nil {
			s.SessionID = rec.SessionID
			s.TranscriptPath = rec.TranscriptPath
		}
		if s.TranscriptPath == "" && e.opts.ProjectsRoot != "" {
			path, err := transcript.Resolve(e.opts.ProjectsRoot, s.Cwd, s.SessionID)
			if err == nil {
				s.TranscriptPath = path
			} else if !errors.Is(err, transcript.ErrNoTranscript) {
				tail.Err = err
			}
		}
		if s.TranscriptPath != "" {
			tail = transcript.ReadTail(s.TranscriptPath, e.opts.TailEntries)
		}
	}

	res := status.Classify(policy, tail, rec, now)
	s.Status, s.Reason, s.Source, s.Tools, s.Since = res.Status, res.Reason, res.Source, res.Tools, res.Since
	if res.Reason != status.ReasonNone {
		refreshLog.Debug("session_unknown",
			slog.Int("pane_id", s.PaneID),
			slog.String("reason", string(res.Reason)),
			slog.String("transcript", s.TranscriptPath))
	}

	if e.opts.Detail {
		s.LastPrompt = transcript.LastPrompt(tail.Entries)
		s.LastOutput = transcript.LastOutput(tail.Entries)
	}
	if e.opts.Branches != nil {
		s.Branch = e.opts.Branches.Branch(ctx, s.Cwd)
	}
	return s
}
