package dexuse

import (
	"sync"
	"time"
)

// debouncer is a single-threaded scheduled-flush helper. Every call to
// trigger restarts the quiet window; fn only runs once the window
// elapses without a further trigger.
type debouncer struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
}

func newDebouncer(windowMs int64, fn func()) *debouncer {
	return &debouncer{
		window: time.Duration(windowMs) * time.Millisecond,
		fn:     fn,
	}
}

// trigger cancels any pending flush and schedules a new one after the
// quiet window.
func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = true
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.fn()
}

// flushNow cancels any pending timer and runs fn synchronously,
// regardless of the quiet window.
func (d *debouncer) flushNow() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
	d.mu.Unlock()

	d.fn()
}
