package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names attached to every record as the "component" attr.
const (
	CompDetect  = "detect"
	CompStatus  = "status"
	CompWatch   = "watch"
	CompBridge  = "bridge"
	CompRefresh = "refresh"
	CompMux     = "mux"
	CompProcs   = "procs"
	CompStore   = "store"
	CompDaemon  = "daemon"
	CompWeb     = "web"
	CompCLI     = "cli"
)

// LogFileName is the rotated log file written inside Config.LogDir.
const LogFileName = "ccpanes.log"

// Config holds logging configuration.
type Config struct {
	// LogDir is where LogFileName is written. Empty discards output unless
	// Debug is set, in which case records go to stderr.
	LogDir string

	// Level is "debug", "info", "warn" or "error".
	Level string

	// Format is "json" (default) or "text".
	Format string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// RingBufferSize is the crash-dump buffer size in bytes.
	RingBufferSize int

	// AggregateIntervalSecs controls how often batched events are summarized.
	AggregateIntervalSecs int

	// PprofAddr starts a pprof listener when non-empty.
	PprofAddr string

	Debug bool
}

// state is everything Init builds; swapped as one unit under mu.
type state struct {
	logger *slog.Logger
	ring   *RingBuffer
	agg    *Aggregator
	file   *lumberjack.Logger
}

var (
	mu      sync.RWMutex
	current *state
	discard = slog.New(slog.NewJSONHandler(io.Discard, nil))
)

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (c *Config) applyDefaults() {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 3
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 7
	}
	if c.RingBufferSize <= 0 {
		c.RingBufferSize = 2 * 1024 * 1024
	}
	if c.AggregateIntervalSecs <= 0 {
		c.AggregateIntervalSecs = 30
	}
}

// Init replaces the global logging state. Calling it twice shuts down the
// previous state first.
func Init(cfg Config) {
	Shutdown()
	cfg.applyDefaults()

	st := &state{ring: NewRingBuffer(cfg.RingBufferSize)}

	var sink io.Writer
	switch {
	case cfg.LogDir != "":
		if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
			st.file = &lumberjack.Logger{
				Filename:   filepath.Join(cfg.LogDir, LogFileName),
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
			}
			sink = st.file
		}
	case cfg.Debug:
		sink = os.Stderr
	}

	if sink == nil {
		st.logger = discard
		st.agg = NewAggregator(nil, cfg.AggregateIntervalSecs)
	} else {
		out := io.MultiWriter(sink, st.ring)
		opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
		var h slog.Handler
		if cfg.Format == "text" {
			h = slog.NewTextHandler(out, opts)
		} else {
			h = slog.NewJSONHandler(out, opts)
		}
		st.logger = slog.New(h)
		st.agg = NewAggregator(st.logger, cfg.AggregateIntervalSecs)
		st.agg.Start()
	}

	mu.Lock()
	current = st
	mu.Unlock()

	if cfg.PprofAddr != "" && sink != nil {
		startPprof(cfg.PprofAddr)
	}
}

// Logger returns the global logger, or a discarding one before Init.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return discard
	}
	return current.logger
}

// ForComponent returns a logger tagged with the component name. It resolves
// the global handler at log time, so package-level loggers created before
// Init still reach the real sink.
func ForComponent(name string) *slog.Logger {
	return slog.New(&componentHandler{component: name})
}

type componentHandler struct {
	component string
	attrs     []slog.Attr
	groups    []string
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	handler := Logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

// Aggregate counts a high-frequency event; the aggregator logs one summary per
// interval instead of one line per occurrence.
func Aggregate(component, event string, fields ...slog.Attr) {
	mu.RLock()
	st := current
	mu.RUnlock()
	if st != nil && st.agg != nil {
		st.agg.Record(component, event, fields...)
	}
}

// DumpRingBuffer writes recent log output to path.
func DumpRingBuffer(path string) error {
	mu.RLock()
	st := current
	mu.RUnlock()
	if st == nil || st.ring == nil {
		return nil
	}
	return st.ring.DumpToFile(path)
}

// Shutdown flushes pending aggregates and closes the log file.
func Shutdown() {
	mu.Lock()
	st := current
	current = nil
	mu.Unlock()
	if st == nil {
		return
	}
	if st.agg != nil {
		st.agg.Stop()
	}
	if st.file != nil {
		_ = st.file.Close()
	}
}
