package watch

import (
	"sync"
	"time"
)

// Poller is the degraded Signal: a fixed-interval tick that asks for a full
// refresh every time.
type Poller struct {
	interval  time.Duration
	ch        chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewPoller returns a stopped poller. Call Start to begin ticking.
func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		interval: interval,
		ch:       make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start runs the ticker in a goroutine.
func (p *Poller) Start() {
	go func() {
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-t.C:
				select {
				case p.ch <- struct{}{}:
				default:
				}
			}
		}
	}()
}

func (p *Poller) C() <-chan struct{} { return p.ch }

// Changed is always nil: a poll tick carries no path information.
func (p *Poller) Changed() []string { return nil }

func (p *Poller) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
