package logging

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

type aggKey struct {
	component string
	event     string
}

type aggCount struct {
	n     int64
	attrs []slog.Attr
}

// Aggregator turns bursts of identical events (fs notifications, debounce
// flushes) into one "event_summary" record per interval.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	counts map[aggKey]*aggCount

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAggregator returns an aggregator flushing every intervalSecs. A nil
// logger drops everything.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		counts:   make(map[aggKey]*aggCount),
		stop:     make(chan struct{}),
	}
}

// Start runs the flush loop in the background.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		t := time.NewTicker(a.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				a.Flush()
			case <-a.stop:
				return
			}
		}
	}()
}

// Stop ends the flush loop and emits whatever is pending. Safe to call more
// than once.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	a.wg.Wait()
	a.Flush()
}

// Record counts one occurrence. The attrs of the latest call are kept.
func (a *Aggregator) Record(component, event string, attrs ...slog.Attr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := aggKey{component, event}
	c := a.counts[k]
	if c == nil {
		c = &aggCount{}
		a.counts[k] = c
	}
	c.n++
	if len(attrs) > 0 {
		c.attrs = attrs
	}
}

// Flush logs and resets the pending counts.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	pending := a.counts
	a.counts = make(map[aggKey]*aggCount)
	a.mu.Unlock()

	if a.logger == nil || len(pending) == 0 {
		return
	}
	keys := make([]aggKey, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].component != keys[j].component {
			return keys[i].component < keys[j].component
		}
		return keys[i].event < keys[j].event
	})
	for _, k := range keys {
		c := pending[k]
		args := []any{
			slog.String("component", k.component),
			slog.String("event", k.event),
			slog.Int64("count", c.n),
			slog.Duration("window", a.interval),
		}
		for _, attr := range c.attrs {
			args = append(args, attr)
		}
		a.logger.Info("event_summary", args...)
	}
}
