package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/justineMD2002/FSM-sub001/internal/clients/google"
	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// Tracking error kinds.
var (
	// ErrDestinationUnresolved means the destination address could not be
	// geocoded; the session never starts.
	ErrDestinationUnresolved = errors.New("tracking: destination unresolved")
	// ErrAlreadyStarted is returned when Start is called on a live session.
	ErrAlreadyStarted = errors.New("tracking: session already started")
)

// Destination is one job site a technician navigates to.
type Destination struct {
	ID         string     `json:"id"`
	Address    string     `json:"address"`
	Coordinate *geo.Point `json:"coordinate,omitempty"`
	// Historical marks completed jobs: still shown on the map, never
	// live-tracked and never evaluated for arrival.
	Historical bool `json:"historical,omitempty"`
}

// Route is a computed driving route to one destination. Routes are replaced
// wholesale on recomputation, never mutated in place, so holders may read a
// snapshot freely.
type Route struct {
	DestinationID   string       `json:"destination_id"`
	Polyline        geo.Polyline `json:"polyline"`
	DistanceMeters  int32        `json:"distance_meters"`
	DurationSeconds int32        `json:"duration_seconds"`
	ComputedAt      time.Time    `json:"computed_at"`
}

// Settings tunes session behavior. Zero values fall back to the package
// defaults.
type Settings struct {
	ArrivalRadiusMeters float64
	DebounceWindow      time.Duration
	GeocodeTTL          time.Duration
}

// RouteProvider computes a driving route between two coordinates.
// internal/clients/google.Client is the production implementation.
type RouteProvider interface {
	ComputeRoute(ctx context.Context, origin, destination geo.Point) (*google.RouteData, error)
}

// Geocoder resolves a street address to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Point, error)
}

// PositionSink receives live fixes for best-effort persistence. Failures
// are the sink's problem; the tracker never retries and never blocks on it.
type PositionSink interface {
	Record(ctx context.Context, fix geo.Point)
}

// EventKind identifies a session state change for the presentation layer.
type EventKind string

const (
	EventLoading      EventKind = "loading"
	EventReady        EventKind = "ready"
	EventError        EventKind = "error"
	EventRouteUpdated EventKind = "route_updated"
	EventArrived      EventKind = "arrived"
)

// Event is emitted to the registered listener. The core never renders; the
// UI derives "unable to load location" style messaging from Err.
type Event struct {
	Kind          EventKind
	DestinationID string
	Route         *Route
	Err           error
}

// Listener receives session events. Callbacks must be quick; they run on
// the session's update path.
type Listener func(Event)

// SessionSnapshot is a read-only copy of a session's live state.
type SessionSnapshot struct {
	Destination     Destination `json:"destination"`
	Coordinate      geo.Point   `json:"coordinate"`
	CurrentPosition *geo.Point  `json:"current_position,omitempty"`
	Route           *Route      `json:"route,omitempty"`
	Arrived         bool        `json:"arrived"`
	Live            bool        `json:"live"`
}
