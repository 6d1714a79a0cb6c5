package position

import (
	"context"
	"errors"
	"sync"

	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// Error kinds surfaced by position acquisition. Consumers match with
// errors.Is and degrade rather than fail: a denied permission disables live
// tracking for the session, it never tears the session down.
var (
	ErrPermissionDenied = errors.New("position: permission denied")
	ErrUnavailable      = errors.New("position: unavailable")
	ErrTimeout          = errors.New("position: timeout")
)

// Source abstracts a continuous position stream for one technician.
type Source interface {
	// GetOnce acquires a single fix, or fails with one of the position
	// error kinds.
	GetOnce(ctx context.Context) (geo.Point, error)

	// Watch opens a continuous high-frequency subscription. Updates and
	// errors are delivered via the callbacks until the returned
	// subscription is cancelled.
	Watch(onUpdate func(geo.Point), onError func(error)) (Subscription, error)
}

// Subscription is the handle for an active watch. Cancel stops all further
// callbacks: once Cancel returns, no callback is running or will run again.
// Cancel is idempotent. It must not be called from inside a callback.
type Subscription interface {
	Cancel()
}

// dispatcher serializes callback delivery and implements the
// no-callback-after-cancel guarantee shared by all sources. Delivery holds
// the mutex across the callback, so Cancel blocks until any in-flight
// callback finishes.
type dispatcher struct {
	mu       sync.Mutex
	closed   bool
	onUpdate func(geo.Point)
	onError  func(error)
}

func newDispatcher(onUpdate func(geo.Point), onError func(error)) *dispatcher {
	return &dispatcher{onUpdate: onUpdate, onError: onError}
}

func (d *dispatcher) update(p geo.Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.onUpdate == nil {
		return
	}
	d.onUpdate(p)
}

func (d *dispatcher) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.onError == nil {
		return
	}
	d.onError(err)
}

func (d *dispatcher) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}
