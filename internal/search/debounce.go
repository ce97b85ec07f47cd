package search

import (
	"sync"
	"time"
)

const defaultDebounceWindow = time.Second

// Debouncer coalesces keystroke-driven queries: Submit restarts a stability
// window, and only the query that survives the full window unchanged is
// delivered to the callback. Stop cancels any pending delivery.
type Debouncer struct {
	window time.Duration
	fire   func(query string)

	mutex   sync.Mutex
	timer   *time.Timer
	stopped bool
}

func NewDebouncer(window time.Duration, fire func(query string)) *Debouncer {
	if window <= 0 {
		window = defaultDebounceWindow
	}
	return &Debouncer{window: window, fire: fire}
}

// Submit schedules query for delivery once no newer submission arrives
// within the stability window. Each call supersedes the previous one.
func (d *Debouncer) Submit(query string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.window, func() {
		d.mutex.Lock()
		stopped := d.stopped
		d.mutex.Unlock()

		if !stopped {
			d.fire(query)
		}
	})
}

// Stop cancels the pending delivery, if any, and rejects further
// submissions. Safe to call more than once.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
