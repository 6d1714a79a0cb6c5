package position

import (
	"context"
	"sync"

	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// ManualSource is a Source fed programmatically via Emit. It backs the
// position replay tool and tests; production sessions use MQTTSource.
type ManualSource struct {
	mu      sync.Mutex
	last    *geo.Point
	waiters []chan geo.Point
	subs    map[*manualSubscription]struct{}
}

// NewManualSource creates an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{subs: make(map[*manualSubscription]struct{})}
}

// Emit delivers a fix to every active watcher and to any pending GetOnce.
func (s *ManualSource) Emit(p geo.Point) {
	s.mu.Lock()
	s.last = &p
	waiters := s.waiters
	s.waiters = nil
	subs := make([]*manualSubscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, w := range waiters {
		w <- p
	}
	for _, sub := range subs {
		sub.dispatcher.update(p)
	}
}

// EmitError delivers an error to every active watcher.
func (s *ManualSource) EmitError(err error) {
	s.mu.Lock()
	subs := make([]*manualSubscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.dispatcher.fail(err)
	}
}

// GetOnce returns the most recent fix, or blocks until one is emitted.
func (s *ManualSource) GetOnce(ctx context.Context) (geo.Point, error) {
	s.mu.Lock()
	if s.last != nil {
		p := *s.last
		s.mu.Unlock()
		return p, nil
	}
	w := make(chan geo.Point, 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case p := <-w:
		return p, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return geo.Point{}, ErrTimeout
		}
		return geo.Point{}, ctx.Err()
	}
}

// Watch registers callbacks for subsequent Emit calls.
func (s *ManualSource) Watch(onUpdate func(geo.Point), onError func(error)) (Subscription, error) {
	sub := &manualSubscription{
		source:     s,
		dispatcher: newDispatcher(onUpdate, onError),
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub, nil
}

type manualSubscription struct {
	source     *ManualSource
	dispatcher *dispatcher
}

func (s *manualSubscription) Cancel() {
	s.source.mu.Lock()
	delete(s.source.subs, s)
	s.source.mu.Unlock()
	s.dispatcher.cancel()
}
