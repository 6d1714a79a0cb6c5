package tracking

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/justineMD2002/FSM-sub001/internal/cache"
	"github.com/justineMD2002/FSM-sub001/internal/lib/debounce"
	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
	"github.com/justineMD2002/FSM-sub001/internal/lib/geofence"
	"github.com/justineMD2002/FSM-sub001/internal/position"
)

// defaultGeocodeTTL bounds how long a resolved address stays cached. Within
// one session a destination is never re-geocoded; entries simply outlive
// most sessions.
const defaultGeocodeTTL = time.Hour

// Tracker drives one active job navigation session: it resolves the
// destination, takes an initial fix and route, then (for current jobs)
// follows the technician's live position, feeding the arrival geofence and
// debouncing route recomputation.
//
// All session state is owned by the tracker and serialized through its
// mutex; position callbacks, debounce firings and route completions never
// race on it. Trackers are single-use: once stopped they cannot be
// restarted.
type Tracker struct {
	source       position.Source
	routes       RouteProvider
	geocoder     Geocoder
	geocodeCache *cache.Cache
	debouncer    *debounce.Debouncer

	listener Listener
	sink     PositionSink
	settings Settings

	mu              sync.Mutex
	started         bool
	stopped         bool
	destination     Destination
	coordinate      geo.Point
	currentPosition *geo.Point
	route           *Route
	detector        *geofence.ArrivalDetector
	sub             position.Subscription
	live            bool
	issuedSeq       uint64
	appliedSeq      uint64
}

// NewTracker creates a session tracker. geocodeCache may be nil.
func NewTracker(source position.Source, routes RouteProvider, geocoder Geocoder, geocodeCache *cache.Cache) *Tracker {
	return &Tracker{
		source:       source,
		routes:       routes,
		geocoder:     geocoder,
		geocodeCache: geocodeCache,
		debouncer:    debounce.New(debounce.DefaultWindow),
	}
}

// SetListener registers the presentation-layer event listener. Must be
// called before Start.
func (t *Tracker) SetListener(l Listener) {
	t.listener = l
}

// SetPositionSink registers the best-effort persistence sink for live
// fixes. Must be called before Start.
func (t *Tracker) SetPositionSink(s PositionSink) {
	t.sink = s
}

// SetSettings overrides the default tuning. Must be called before Start.
func (t *Tracker) SetSettings(s Settings) {
	t.settings = s
	if s.DebounceWindow > 0 {
		t.debouncer = debounce.New(s.DebounceWindow)
	}
}

// setDebounceWindow shortens the recompute window for tests.
func (t *Tracker) setDebounceWindow(window time.Duration) {
	t.debouncer = debounce.New(window)
}

func (t *Tracker) arrivalRadius() float64 {
	if t.settings.ArrivalRadiusMeters > 0 {
		return t.settings.ArrivalRadiusMeters
	}
	return geofence.DefaultArrivalRadiusMeters
}

func (t *Tracker) geocodeTTL() time.Duration {
	if t.settings.GeocodeTTL > 0 {
		return t.settings.GeocodeTTL
	}
	return defaultGeocodeTTL
}

// Start begins tracking toward the destination. Geocode failure is fatal;
// a failed initial fix or initial route is not, the session still becomes
// ready and recovers on later updates.
func (t *Tracker) Start(ctx context.Context, dest Destination, trackLive bool) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.destination = dest
	t.mu.Unlock()

	t.emit(Event{Kind: EventLoading, DestinationID: dest.ID})

	coord, err := t.resolveDestination(ctx, dest)
	if err != nil {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDestinationUnresolved, err)
	}

	t.mu.Lock()
	t.coordinate = coord
	t.detector = geofence.NewArrivalDetectorWithRadius(coord, t.arrivalRadius())
	t.mu.Unlock()

	// Initial fix is best-effort: without one the destination marker is
	// still shown and live updates can fill the position in later.
	initialFix, fixErr := t.source.GetOnce(ctx)
	if fixErr != nil {
		log.Printf("Initial position fix failed for %s: %v", dest.ID, fixErr)
		t.emit(Event{Kind: EventError, DestinationID: dest.ID, Err: fixErr})
	} else {
		t.applyPosition(initialFix)
	}

	// Initial route is best-effort too: on failure the session becomes
	// ready with no polyline.
	if fixErr == nil {
		if err := t.computeRoute(ctx, initialFix); err != nil {
			log.Printf("Initial route computation failed for %s: %v", dest.ID, err)
			t.emit(Event{Kind: EventError, DestinationID: dest.ID, Err: err})
		}
	}

	t.emit(Event{Kind: EventReady, DestinationID: dest.ID})

	if trackLive && !dest.Historical {
		sub, err := t.source.Watch(t.onPositionUpdate, t.onPositionError)
		if err != nil {
			// Degrade to no live tracking; the session stays usable.
			log.Printf("Live tracking unavailable for %s: %v", dest.ID, err)
			t.emit(Event{Kind: EventError, DestinationID: dest.ID, Err: err})
			return nil
		}

		t.mu.Lock()
		if t.stopped {
			// Raced with Stop; tear the subscription down again.
			t.mu.Unlock()
			sub.Cancel()
			return nil
		}
		t.sub = sub
		t.live = true
		t.mu.Unlock()
	}

	return nil
}

// Stop cancels the position subscription and any pending debounced
// recomputation. Idempotent. Once Stop returns, no further state changes or
// events are produced; an in-flight route call may still complete but its
// result is discarded.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	sub := t.sub
	t.sub = nil
	t.live = false
	t.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	t.debouncer.CancelAll()
}

// Snapshot returns a copy of the session's current state.
func (t *Tracker) Snapshot() SessionSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := SessionSnapshot{
		Destination: t.destination,
		Coordinate:  t.coordinate,
		Live:        t.live,
	}
	if t.currentPosition != nil {
		p := *t.currentPosition
		snap.CurrentPosition = &p
	}
	if t.route != nil {
		r := *t.route
		snap.Route = &r
	}
	if t.detector != nil {
		snap.Arrived = t.detector.Arrived()
	}
	return snap
}

// resolveDestination returns the destination coordinate, geocoding the
// address when none was provided. Resolved addresses are cached so they are
// never re-geocoded within a session.
func (t *Tracker) resolveDestination(ctx context.Context, dest Destination) (geo.Point, error) {
	if dest.Coordinate != nil {
		return geo.NewPoint(dest.Coordinate.Latitude, dest.Coordinate.Longitude)
	}

	if dest.Address == "" {
		return geo.Point{}, fmt.Errorf("destination %s has neither coordinate nor address", dest.ID)
	}

	if t.geocodeCache != nil {
		if point, found, err := t.geocodeCache.GetGeocode(dest.Address); err == nil && found {
			return point, nil
		}
	}

	point, err := t.geocoder.Geocode(ctx, dest.Address)
	if err != nil {
		return geo.Point{}, fmt.Errorf("geocode %q: %w", dest.Address, err)
	}

	if t.geocodeCache != nil {
		if err := t.geocodeCache.SetGeocode(dest.Address, point, t.geocodeTTL()); err != nil {
			log.Printf("Failed to cache geocode result: %v", err)
		}
	}

	return point, nil
}

// onPositionUpdate handles one live fix from the watch subscription.
func (t *Tracker) onPositionUpdate(p geo.Point) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	destID := t.destination.ID
	t.mu.Unlock()

	t.applyPosition(p)

	t.debouncer.Trigger(destID, p, func(latest geo.Point) {
		if err := t.computeRoute(context.Background(), latest); err != nil {
			t.mu.Lock()
			stopped := t.stopped
			t.mu.Unlock()
			if !stopped {
				log.Printf("Route recomputation failed for %s: %v", destID, err)
				t.emit(Event{Kind: EventError, DestinationID: destID, Err: err})
			}
		}
	})
}

// onPositionError handles a live stream error. Non-fatal: further updates
// may stop arriving but the session keeps its last known state.
func (t *Tracker) onPositionError(err error) {
	t.mu.Lock()
	stopped := t.stopped
	destID := t.destination.ID
	t.mu.Unlock()
	if stopped {
		return
	}

	log.Printf("Position stream error for %s: %v", destID, err)
	t.emit(Event{Kind: EventError, DestinationID: destID, Err: err})
}

// applyPosition records a fix, evaluates the arrival geofence and forwards
// the fix to the persistence sink.
func (t *Tracker) applyPosition(p geo.Point) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	pos := p
	t.currentPosition = &pos

	arrivedNow := false
	if t.detector != nil && !t.destination.Historical {
		arrivedNow = t.detector.Observe(p)
	}
	destID := t.destination.ID
	sink := t.sink
	t.mu.Unlock()

	if sink != nil {
		// Persistence must never block or fail tracking.
		go sink.Record(context.Background(), p)
	}

	if arrivedNow {
		t.emit(Event{Kind: EventArrived, DestinationID: destID})
	}
}

// computeRoute issues a route call and applies the result unless the
// session stopped or a newer call already completed (last-issued-wins).
func (t *Tracker) computeRoute(ctx context.Context, origin geo.Point) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.issuedSeq++
	seq := t.issuedSeq
	destCoord := t.coordinate
	destID := t.destination.ID
	t.mu.Unlock()

	data, err := t.routes.ComputeRoute(ctx, origin, destCoord)
	if err != nil {
		// Previous route, if any, stays on display.
		return err
	}

	route := &Route{
		DestinationID: destID,
		Polyline: geo.Polyline{
			EncodedPolyline: data.EncodedPolyline,
			Points:          data.Points,
		},
		DistanceMeters:  data.DistanceMeters,
		DurationSeconds: data.DurationSeconds,
		ComputedAt:      time.Now(),
	}

	t.mu.Lock()
	if t.stopped || seq <= t.appliedSeq {
		// Session stopped or a later-issued call already applied.
		t.mu.Unlock()
		return nil
	}
	t.appliedSeq = seq
	t.route = route
	t.mu.Unlock()

	emitted := *route
	t.emit(Event{Kind: EventRouteUpdated, DestinationID: destID, Route: &emitted})
	return nil
}

// emit delivers an event to the listener unless the session has stopped.
func (t *Tracker) emit(e Event) {
	if t.listener == nil {
		return
	}
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	t.listener(e)
}
