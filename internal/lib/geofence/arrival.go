package geofence

import (
	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// DefaultArrivalRadiusMeters is the geofence radius around a destination
// within which a technician counts as arrived.
const DefaultArrivalRadiusMeters = 50.0

// ArrivalDetector is a one-shot geofence check against a single destination.
// It starts pending and latches to arrived the first time an observed
// position falls within the radius. Once arrived it stays arrived; moving
// back out of the radius never resets it.
//
// The detector is not internally synchronized. Callers are expected to feed
// it from a single goroutine (the tracking session's update loop).
type ArrivalDetector struct {
	geoUtils geo.GeoUtils
	target   geo.Point
	radius   float64
	arrived  bool
}

// NewArrivalDetector creates a detector for the given destination coordinate
// using the default arrival radius.
func NewArrivalDetector(target geo.Point) *ArrivalDetector {
	return NewArrivalDetectorWithRadius(target, DefaultArrivalRadiusMeters)
}

// NewArrivalDetectorWithRadius creates a detector with an explicit radius.
func NewArrivalDetectorWithRadius(target geo.Point, radiusMeters float64) *ArrivalDetector {
	return &ArrivalDetector{
		geoUtils: geo.NewGeoUtils(),
		target:   target,
		radius:   radiusMeters,
	}
}

// Observe evaluates a position against the geofence. It returns true exactly
// once: on the first observation within the radius. Invalid positions are
// skipped without affecting detector state.
func (d *ArrivalDetector) Observe(pos geo.Point) bool {
	if d.arrived {
		return false
	}

	dist, err := d.geoUtils.PointToPoint(pos, d.target)
	if err != nil {
		return false
	}

	if dist <= d.radius {
		d.arrived = true
		return true
	}
	return false
}

// Arrived reports whether the detector has latched.
func (d *ArrivalDetector) Arrived() bool {
	return d.arrived
}
