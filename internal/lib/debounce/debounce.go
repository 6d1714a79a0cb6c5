package debounce

import (
	"sync"
	"time"

	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// DefaultWindow is how long position updates are coalesced before a route
// recomputation is allowed to fire.
const DefaultWindow = 5 * time.Second

// Debouncer collapses bursts of position updates into at most one callback
// per window, per key. Each trigger replaces any pending callback for the
// same key with one carrying the latest position, so when the window elapses
// the callback fires exactly once with the most recent input. Keys are
// independent: one key's pending timer never delays another's.
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*pendingFire
}

type pendingFire struct {
	timer *time.Timer
}

// New creates a Debouncer with the given window. Use DefaultWindow for
// production route recomputation.
func New(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingFire),
	}
}

// Trigger schedules fire to run one window from now with the given position,
// cancelling any previously scheduled run for the same key.
func (d *Debouncer) Trigger(key string, pos geo.Point, fire func(geo.Point)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}

	p := &pendingFire{}
	p.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		current, ok := d.pending[key]
		if !ok || current != p {
			// Cancelled or superseded while the timer was firing
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()

		fire(pos)
	})
	d.pending[key] = p
}

// Cancel drops any pending callback for the key. No new firing starts
// after Cancel returns; a callback whose timer expired and already passed
// its identity check may still complete, so callers that must not observe
// a late firing guard with their own stopped state.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

// CancelAll drops every pending callback. Same caveat as Cancel for
// callbacks already past their identity check.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

// Pending reports whether a callback is currently scheduled for the key.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.pending[key]
	return ok
}
