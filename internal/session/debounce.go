package session

import (
	"sync"
	"time"
)

// DefaultLimitDebounce is the window in which successive limit changes
// coalesce into one recompile.
const DefaultLimitDebounce = 200 * time.Millisecond

// LimitDebouncer collapses bursts of limit changes to the last value. fire
// runs on its own goroutine once the window passes without a new change.
type LimitDebouncer struct {
	window time.Duration
	fire   func(limit int)

	mu      sync.Mutex
	timer   *time.Timer
	pending int
	gen     uint64
	armed   bool
	stopped bool
}

// NewLimitDebouncer creates a debouncer; a non-positive window uses
// DefaultLimitDebounce.
func NewLimitDebouncer(window time.Duration, fire func(limit int)) *LimitDebouncer {
	if window <= 0 {
		window = DefaultLimitDebounce
	}
	return &LimitDebouncer{window: window, fire: fire}
}

// Set records limit and restarts the window.
func (d *LimitDebouncer) Set(limit int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = limit
	d.armed = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() { d.expire(gen) })
}

// Pending returns the value waiting to fire, if any.
func (d *LimitDebouncer) Pending() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending, d.armed
}

// Flush fires a pending value immediately.
func (d *LimitDebouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	limit, ok := d.take()
	d.mu.Unlock()
	if ok {
		d.fire(limit)
	}
}

// Stop discards any pending value; later Sets are ignored.
func (d *LimitDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
	}
}

// expire fires only for the latest Set; a timer that already fired when a
// later Set stopped it finds a newer generation and does nothing.
func (d *LimitDebouncer) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	limit, ok := d.take()
	d.mu.Unlock()
	if ok {
		d.fire(limit)
	}
}

// take consumes the pending value. Callers hold mu.
func (d *LimitDebouncer) take() (int, bool) {
	if !d.armed || d.stopped {
		return 0, false
	}
	d.armed = false
	return d.pending, true
}
