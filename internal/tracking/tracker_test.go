package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justineMD2002/FSM-sub001/internal/cache"
	"github.com/justineMD2002/FSM-sub001/internal/clients/google"
	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
	"github.com/justineMD2002/FSM-sub001/internal/position"
)

type fakeRouteProvider struct {
	mu    sync.Mutex
	calls []geo.Point
	fn    func(ctx context.Context, origin, destination geo.Point) (*google.RouteData, error)
}

func (f *fakeRouteProvider) ComputeRoute(ctx context.Context, origin, destination geo.Point) (*google.RouteData, error) {
	f.mu.Lock()
	f.calls = append(f.calls, origin)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, origin, destination)
	}
	return &google.RouteData{
		DurationSeconds: 300,
		DistanceMeters:  1000,
		EncodedPolyline: "fake",
		Points:          []geo.Point{origin, destination},
	}, nil
}

func (f *fakeRouteProvider) origins() []geo.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]geo.Point, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeGeocoder struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, address string) (geo.Point, error)
}

func (f *fakeGeocoder) Geocode(ctx context.Context, address string) (geo.Point, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, address)
	}
	return geo.Point{Latitude: 33.44, Longitude: -112.07}, nil
}

func (f *fakeGeocoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listener(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func coordPtr(lat, lng float64) *geo.Point {
	return &geo.Point{Latitude: lat, Longitude: lng}
}

func TestTracker_StartBecomesReadyWithRoute(t *testing.T) {
	source := position.NewManualSource()
	source.Emit(geo.Point{Latitude: 10.0009, Longitude: 20}) // ~100m out

	provider := &fakeRouteProvider{}
	rec := &eventRecorder{}

	tr := NewTracker(source, provider, &fakeGeocoder{}, nil)
	tr.SetListener(rec.listener)

	dest := Destination{ID: "job-1", Coordinate: coordPtr(10, 20)}
	require.NoError(t, tr.Start(context.Background(), dest, false))
	defer tr.Stop()

	assert.Equal(t, 1, rec.count(EventLoading))
	assert.Equal(t, 1, rec.count(EventReady))
	assert.Equal(t, 1, rec.count(EventRouteUpdated))
	assert.Equal(t, 0, rec.count(EventArrived), "100m out is beyond the arrival geofence")

	snap := tr.Snapshot()
	require.NotNil(t, snap.Route)
	assert.Equal(t, "job-1", snap.Route.DestinationID)
	assert.False(t, snap.Arrived)
	require.NotNil(t, snap.CurrentPosition)
	assert.InDelta(t, 10.0009, snap.CurrentPosition.Latitude, 1e-9)
}

func TestTracker_ArrivalEmittedExactlyOnce(t *testing.T) {
	source := position.NewManualSource()
	source.Emit(geo.Point{Latitude: 10.0009, Longitude: 20}) // ~100m out

	rec := &eventRecorder{}
	tr := NewTracker(source, &fakeRouteProvider{}, &fakeGeocoder{}, nil)
	tr.SetListener(rec.listener)

	dest := Destination{ID: "job-1", Coordinate: coordPtr(10, 20)}
	require.NoError(t, tr.Start(context.Background(), dest, true))
	defer tr.Stop()

	assert.Equal(t, 0, rec.count(EventArrived))

	// ~11m out: inside the geofence
	source.Emit(geo.Point{Latitude: 10.0001, Longitude: 20})
	assert.Equal(t, 1, rec.count(EventArrived))

	// Moving away and returning never re-emits
	source.Emit(geo.Point{Latitude: 10.01, Longitude: 20})
	source.Emit(geo.Point{Latitude: 10.0001, Longitude: 20})
	assert.Equal(t, 1, rec.count(EventArrived))

	assert.True(t, tr.Snapshot().Arrived)
}

func TestTracker_GeocodeFailureIsFatal(t *testing.T) {
	source := position.NewManualSource()
	geocoder := &fakeGeocoder{fn: func(context.Context, string) (geo.Point, error) {
		return geo.Point{}, google.ErrNotFound
	}}

	tr := NewTracker(source, &fakeRouteProvider{}, geocoder, nil)

	err := tr.Start(context.Background(), Destination{ID: "job-1", Address: "nowhere"}, false)
	assert.ErrorIs(t, err, ErrDestinationUnresolved)
}

func TestTracker_GeocodeResultIsCached(t *testing.T) {
	geocodeCache := cache.NewCache()
	geocoder := &fakeGeocoder{}

	for i := 0; i < 2; i++ {
		source := position.NewManualSource()
		source.Emit(geo.Point{Latitude: 33, Longitude: -112})

		tr := NewTracker(source, &fakeRouteProvider{}, geocoder, geocodeCache)
		dest := Destination{ID: "job-1", Address: "1901 W Madison St, Phoenix, AZ"}
		require.NoError(t, tr.Start(context.Background(), dest, false))
		tr.Stop()
	}

	assert.Equal(t, 1, geocoder.callCount(), "A resolved address must never be re-geocoded")
}

func TestTracker_DoubleStartRejected(t *testing.T) {
	source := position.NewManualSource()
	source.Emit(geo.Point{Latitude: 10, Longitude: 20})

	tr := NewTracker(source, &fakeRouteProvider{}, &fakeGeocoder{}, nil)
	dest := Destination{ID: "job-1", Coordinate: coordPtr(10, 20)}

	require.NoError(t, tr.Start(context.Background(), dest, false))
	defer tr.Stop()

	assert.ErrorIs(t, tr.Start(context.Background(), dest, false), ErrAlreadyStarted)
}

func TestTracker_InitialRouteFailureNonFatal(t *testing.T) {
	source := position.NewManualSource()
	source.Emit(geo.Point{Latitude: 10.0009, Longitude: 20})

	provider := &fakeRouteProvider{fn: func(context.Context, geo.Point, geo.Point) (*google.RouteData, error) {
		return nil, google.ErrProviderUnavailable
	}}
	rec := &eventRecorder{}

	tr := NewTracker(source, provider, &fakeGeocoder{}, nil)
	tr.SetListener(rec.listener)

	dest := Destination{ID: "job-1", Coordinate: coordPtr(10, 20)}
	require.NoError(t, tr.Start(context.Background(), dest, false))
	defer tr.Stop()

	assert.Equal(t, 1, rec.count(EventReady), "Session becomes ready without a polyline")
	assert.Equal(t, 1, rec.count(EventError))
	assert.Nil(t, tr.Snapshot().Route)
}

func TestTracker_StoppedSessionIgnoresQueuedUpdates(t *testing.T) {
	source := position.NewManualSource()
	source.Emit(geo.Point{Latitude: 10.0009, Longitude: 20})

	rec := &eventRecorder{}
	tr := NewTracker(source, &fakeRouteProvider{}, &fakeGeocoder{}, nil)
	tr.SetListener(rec.listener)

	dest := Destination{ID: "job-1", Coordinate: coordPtr(10, 20)}
	require.NoError(t, tr.Start(context.Background(), dest, true))

	tr.Stop()
	tr.Stop() // idempotent

	before := rec.total()
	snapBefore := tr.Snapshot()

	source.Emit(geo.Point{Latitude: 10.0001, Longitude: 20})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, before, rec.total(), "No events after Stop")
	snapAfter := tr.Snapshot()
	assert.Equal(t, snapBefore.CurrentPosition, snapAfter.CurrentPosition, "No state change after Stop")
	assert.False(t, snapAfter.Arrived)
}

func TestTracker_LateRouteCompletionDiscardedAfterStop(t *testing.T) {
	source := position.NewManualSource()
	source.Emit(geo.Point{Latitude: 10.0009, Longitude: 20})

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	provider := &fakeRouteProvider{fn: func(ctx context.Context, origin, dest geo.Point) (*google.RouteData, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			// Initial route resolves immediately
			return &google.RouteData{EncodedPolyline: "initial", Points: []geo.Point{origin, dest}}, nil
		}
		close(started)
		<-release
		return &google.RouteData{EncodedPolyline: "late", Points: []geo.Point{origin, dest}}, nil
	}}

	rec := &eventRecorder{}
	tr := NewTracker(source, provider, &fakeGeocoder{}, nil)
	tr.SetListener(rec.listener)
	tr.setDebounceWindow(10 * time.Millisecond)

	dest := Destination{ID: "job-1", Coordinate: coordPtr(10, 20)}
	require.NoError(t, tr.Start(context.Background(), dest, true))

	routeUpdatesBefore := rec.count(EventRouteUpdated)

	// Trigger a debounced recompute that blocks inside the provider
	source.Emit(geo.Point{Latitude: 10.0008, Longitude: 20})
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("recompute never started")
	}

	tr.Stop()
	close(release)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, routeUpdatesBefore, rec.count(EventRouteUpdated), "Late completion must be discarded")
	snap := tr.Snapshot()
	require.NotNil(t, snap.Route)
	assert.Equal(t, "initial", snap.Route.Polyline.EncodedPolyline)
}

func TestTracker_DebouncedRecomputeUsesLatestPosition(t *testing.T) {
	source := position.NewManualSource()
	source.Emit(geo.Point{Latitude: 10.0009, Longitude: 20})

	provider := &fakeRouteProvider{}
	tr := NewTracker(source, provider, &fakeGeocoder{}, nil)
	tr.setDebounceWindow(30 * time.Millisecond)

	dest := Destination{ID: "job-1", Coordinate: coordPtr(10, 20)}
	require.NoError(t, tr.Start(context.Background(), dest, true))
	defer tr.Stop()

	// Burst of updates within one window
	source.Emit(geo.Point{Latitude: 10.0008, Longitude: 20})
	source.Emit(geo.Point{Latitude: 10.0007, Longitude: 20})
	source.Emit(geo.Point{Latitude: 10.0006, Longitude: 20})

	assert.Eventually(t, func() bool {
		return len(provider.origins()) == 2 // initial + one debounced
	}, 2*time.Second, 10*time.Millisecond, "Burst should collapse to one recompute")

	origins := provider.origins()
	assert.InDelta(t, 10.0006, origins[len(origins)-1].Latitude, 1e-9, "Recompute uses the latest position")
}

func TestTracker_HistoricalDestinationNeverArrives(t *testing.T) {
	source := position.NewManualSource()
	source.Emit(geo.Point{Latitude: 10, Longitude: 20}) // exactly at the destination

	rec := &eventRecorder{}
	tr := NewTracker(source, &fakeRouteProvider{}, &fakeGeocoder{}, nil)
	tr.SetListener(rec.listener)

	dest := Destination{ID: "job-9", Coordinate: coordPtr(10, 20), Historical: true}
	require.NoError(t, tr.Start(context.Background(), dest, false))
	defer tr.Stop()

	assert.Equal(t, 0, rec.count(EventArrived), "Historical jobs are never evaluated for arrival")
	assert.False(t, tr.Snapshot().Arrived)
}

func TestTracker_WatchFailureDegradesToNoLiveTracking(t *testing.T) {
	source := position.NewManualSource()
	source.Emit(geo.Point{Latitude: 10.0009, Longitude: 20})

	rec := &eventRecorder{}
	tr := NewTracker(&failingWatchSource{inner: source}, &fakeRouteProvider{}, &fakeGeocoder{}, nil)
	tr.SetListener(rec.listener)

	dest := Destination{ID: "job-1", Coordinate: coordPtr(10, 20)}
	require.NoError(t, tr.Start(context.Background(), dest, true), "Watch failure must not fail Start")

	assert.Equal(t, 1, rec.count(EventReady))
	assert.False(t, tr.Snapshot().Live)
}

type failingWatchSource struct {
	inner *position.ManualSource
}

func (s *failingWatchSource) GetOnce(ctx context.Context) (geo.Point, error) {
	return s.inner.GetOnce(ctx)
}

func (s *failingWatchSource) Watch(func(geo.Point), func(error)) (position.Subscription, error) {
	return nil, position.ErrPermissionDenied
}

func TestTracker_SinkReceivesLiveFixes(t *testing.T) {
	source := position.NewManualSource()
	source.Emit(geo.Point{Latitude: 10.0009, Longitude: 20})

	sink := &recordingSink{}
	tr := NewTracker(source, &fakeRouteProvider{}, &fakeGeocoder{}, nil)
	tr.SetPositionSink(sink)

	dest := Destination{ID: "job-1", Coordinate: coordPtr(10, 20)}
	require.NoError(t, tr.Start(context.Background(), dest, true))
	defer tr.Stop()

	source.Emit(geo.Point{Latitude: 10.0008, Longitude: 20})

	assert.Eventually(t, func() bool {
		return sink.count() >= 2 // initial fix + live update
	}, 2*time.Second, 10*time.Millisecond)
}

type recordingSink struct {
	mu    sync.Mutex
	fixes []geo.Point
}

func (s *recordingSink) Record(_ context.Context, fix geo.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixes = append(s.fixes, fix)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fixes)
}

func TestTracker_PositionStreamErrorNonFatal(t *testing.T) {
	source := position.NewManualSource()
	source.Emit(geo.Point{Latitude: 10.0009, Longitude: 20})

	rec := &eventRecorder{}
	tr := NewTracker(source, &fakeRouteProvider{}, &fakeGeocoder{}, nil)
	tr.SetListener(rec.listener)

	dest := Destination{ID: "job-1", Coordinate: coordPtr(10, 20)}
	require.NoError(t, tr.Start(context.Background(), dest, true))
	defer tr.Stop()

	source.EmitError(errors.New("gps glitch"))

	assert.Equal(t, 1, rec.count(EventError))

	// The session keeps working afterwards
	source.Emit(geo.Point{Latitude: 10.0001, Longitude: 20})
	assert.Equal(t, 1, rec.count(EventArrived))
}
