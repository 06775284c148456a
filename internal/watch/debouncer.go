package watch

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid events per key into a single callback invocation.
// Only the last event for a key within the configured interval triggers the
// callback; keys are independent of each other.
type Debouncer struct {
	interval time.Duration
	mu       sync.Mutex
	timers   map[string]*time.Timer
	callback func(key string)
	stopped  bool
}

// NewDebouncer creates a debouncer that waits for interval of quiet on a key
// before firing callback with that key.
func NewDebouncer(interval time.Duration, callback func(key string)) *Debouncer {
	return &Debouncer{
		interval: interval,
		timers:   make(map[string]*time.Timer),
		callback: callback,
	}
}

// Trigger records an event for key. If no further events for key arrive
// within the debounce interval, the callback fires with key.
func (d *Debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if t, ok := d.timers[key]; ok {
		t.Stop()
	}

	var timer *time.Timer

	timer = time.AfterFunc(d.interval, func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("debouncer callback panicked", slog.String("key", key), slog.Any("error", r))
			}
		}()

		d.mu.Lock()
		// A newer Trigger or a Cancel replaced this timer.
		if d.stopped || d.timers[key] != timer {
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		defer func() {
			d.mu.Lock()
			if d.timers[key] == timer {
				delete(d.timers, key)
			}
			d.mu.Unlock()
		}()

		d.callback(key)
	})
	d.timers[key] = timer
}

// Cancel drops a pending callback for key.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// Pending reports how many keys have a callback scheduled or running.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.timers)
}

// Stop cancels all pending callbacks. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true

	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
