package notify

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// debouncer runs fn once, window after the last Trigger.
type debouncer struct {
	clock  clockwork.Clock
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   clockwork.Timer
	gen     uint64
	pending bool
}

func newDebouncer(clock clockwork.Clock, window time.Duration, fn func()) *debouncer {
	return &debouncer{clock: clock, window: window, fn: fn}
}

func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = true
	d.timer = d.clock.AfterFunc(d.window, func() { d.fire(gen) })
}

func (d *debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// Flush runs a pending call now. It reports whether one was pending.
func (d *debouncer) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = false
	d.mu.Unlock()
	d.fn()
	return true
}
