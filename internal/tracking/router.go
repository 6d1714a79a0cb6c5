package tracking

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/justineMD2002/FSM-sub001/internal/cache"
	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
	"github.com/justineMD2002/FSM-sub001/internal/position"
)

// OverviewDestination is a resolved destination with its stable overlay
// color. Fields are spelled out rather than embedding Destination so the
// marshaled shape is explicit: the coordinate here is always resolved,
// never absent.
type OverviewDestination struct {
	ID         string    `json:"id"`
	Address    string    `json:"address"`
	Historical bool      `json:"historical,omitempty"`
	Coordinate geo.Point `json:"coordinate"`
	ColorIndex int       `json:"color_index"`
	ColorHex   string    `json:"color_hex"`
}

// Bounds is a latitude/longitude box enclosing all destinations, used by
// the map view for its initial fit.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Overview is the planning snapshot for the all-jobs map view: every
// resolved destination, its color, and (when a current position was
// available) a driving route to each.
type Overview struct {
	Center       geo.Point        `json:"center"`
	HasPosition  bool             `json:"has_position"`
	Destinations []OverviewDestination `json:"destinations"`
	Routes       map[string]Route `json:"routes"`
	Bounds       *Bounds          `json:"bounds,omitempty"`
	ComputedAt   time.Time        `json:"computed_at"`
}

// MultiRouter computes the multi-destination overview. It is a planning
// snapshot, not a live view: no position watch is opened, and state changes
// only on an explicit re-Initialize. Internal state is only ever replaced,
// never mutated in place, so snapshots can be handed out without tearing.
type MultiRouter struct {
	source       position.Source
	routes       RouteProvider
	geocoder     Geocoder
	geocodeCache *cache.Cache
	colors       *ColorAssigner

	mu          sync.Mutex
	overview    *Overview
	coordinates map[string]geo.Point
	fitBounds   *Bounds
}

// NewMultiRouter creates an overview router. geocodeCache may be nil.
func NewMultiRouter(source position.Source, routes RouteProvider, geocoder Geocoder, geocodeCache *cache.Cache) *MultiRouter {
	return &MultiRouter{
		source:       source,
		routes:       routes,
		geocoder:     geocoder,
		geocodeCache: geocodeCache,
		colors:       NewColorAssigner(),
	}
}

// Initialize resolves every destination, assigns colors and computes routes
// from the current position in parallel. A destination whose geocoding
// fails is dropped; a destination whose route fails stays as a bare marker;
// a missing current position centers the view on the first destination.
func (r *MultiRouter) Initialize(ctx context.Context, destinations []Destination) (*Overview, error) {
	fix, err := r.source.GetOnce(ctx)
	hasPosition := err == nil
	if err != nil {
		log.Printf("Overview position fix unavailable: %v", err)
	}

	resolved := r.resolveAll(ctx, destinations)

	overview := &Overview{
		HasPosition: hasPosition,
		Routes:      make(map[string]Route),
		ComputedAt:  time.Now(),
	}

	coordinates := make(map[string]geo.Point, len(resolved))
	for _, rd := range resolved {
		idx := r.colors.Assign(rd.ID)
		overview.Destinations = append(overview.Destinations, OverviewDestination{
			ID:         rd.ID,
			Address:    rd.Address,
			Historical: rd.Historical,
			Coordinate: rd.coordinate,
			ColorIndex: idx,
			ColorHex:   ColorHex(idx),
		})
		coordinates[rd.ID] = rd.coordinate
	}

	switch {
	case hasPosition:
		overview.Center = fix
	case len(overview.Destinations) > 0:
		overview.Center = overview.Destinations[0].Coordinate
	}

	if hasPosition {
		r.computeRoutes(ctx, fix, overview)
	}

	r.mu.Lock()
	// The fit bounds are computed once, the first time every requested
	// destination has a resolved coordinate. Later initializations never
	// recompute them; subsequent fits are user-triggered in the map view.
	if r.fitBounds == nil && len(resolved) == len(destinations) && len(resolved) > 0 {
		r.fitBounds = boundsOf(coordinates)
	}
	overview.Bounds = r.fitBounds
	r.overview = overview
	r.coordinates = coordinates
	r.mu.Unlock()

	return overview, nil
}

// Focus returns the stored coordinate for a destination so the map view can
// recenter on it. The router does not own camera state.
func (r *MultiRouter) Focus(destinationID string) (geo.Point, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.coordinates[destinationID]
	return p, ok
}

// Snapshot returns the most recent overview, or nil before the first
// Initialize.
func (r *MultiRouter) Snapshot() *Overview {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overview
}

type resolvedDestination struct {
	Destination
	coordinate geo.Point
}

// resolveAll geocodes destinations missing coordinates in parallel,
// dropping the ones that fail and preserving input order for the rest.
func (r *MultiRouter) resolveAll(ctx context.Context, destinations []Destination) []resolvedDestination {
	results := make([]*resolvedDestination, len(destinations))

	g, ctx := errgroup.WithContext(ctx)
	for i, dest := range destinations {
		g.Go(func() error {
			coord, err := r.resolveOne(ctx, dest)
			if err != nil {
				log.Printf("Dropping destination %s from overview: %v", dest.ID, err)
				return nil
			}
			results[i] = &resolvedDestination{Destination: dest, coordinate: coord}
			return nil
		})
	}
	// Goroutines report per-destination failures by leaving a nil slot.
	_ = g.Wait()

	resolved := make([]resolvedDestination, 0, len(destinations))
	for _, res := range results {
		if res != nil {
			resolved = append(resolved, *res)
		}
	}
	return resolved
}

func (r *MultiRouter) resolveOne(ctx context.Context, dest Destination) (geo.Point, error) {
	if dest.Coordinate != nil {
		return geo.NewPoint(dest.Coordinate.Latitude, dest.Coordinate.Longitude)
	}

	if r.geocodeCache != nil {
		if point, found, err := r.geocodeCache.GetGeocode(dest.Address); err == nil && found {
			return point, nil
		}
	}

	point, err := r.geocoder.Geocode(ctx, dest.Address)
	if err != nil {
		return geo.Point{}, err
	}

	if r.geocodeCache != nil {
		if err := r.geocodeCache.SetGeocode(dest.Address, point, defaultGeocodeTTL); err != nil {
			log.Printf("Failed to cache geocode result: %v", err)
		}
	}
	return point, nil
}

// computeRoutes fills overview.Routes with a route from the fix to each
// destination, in parallel. A failed route leaves that destination as a
// bare marker.
func (r *MultiRouter) computeRoutes(ctx context.Context, fix geo.Point, overview *Overview) {
	routes := make([]*Route, len(overview.Destinations))

	g, ctx := errgroup.WithContext(ctx)
	for i, od := range overview.Destinations {
		g.Go(func() error {
			data, err := r.routes.ComputeRoute(ctx, fix, od.Coordinate)
			if err != nil {
				log.Printf("No route to destination %s: %v", od.ID, err)
				return nil
			}
			routes[i] = &Route{
				DestinationID: od.ID,
				Polyline: geo.Polyline{
					EncodedPolyline: data.EncodedPolyline,
					Points:          data.Points,
				},
				DistanceMeters:  data.DistanceMeters,
				DurationSeconds: data.DurationSeconds,
				ComputedAt:      time.Now(),
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, route := range routes {
		if route != nil {
			overview.Routes[route.DestinationID] = *route
		}
	}
}

func boundsOf(coordinates map[string]geo.Point) *Bounds {
	b := &Bounds{MinLat: 90, MaxLat: -90, MinLng: 180, MaxLng: -180}
	for _, p := range coordinates {
		if p.Latitude < b.MinLat {
			b.MinLat = p.Latitude
		}
		if p.Latitude > b.MaxLat {
			b.MaxLat = p.Latitude
		}
		if p.Longitude < b.MinLng {
			b.MinLng = p.Longitude
		}
		if p.Longitude > b.MaxLng {
			b.MaxLng = p.Longitude
		}
	}
	return b
}
