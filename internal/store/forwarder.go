package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// forwardTimeout bounds each sink call so a slow database can never stall
// position handling.
const forwardTimeout = 5 * time.Second

// TechnicianPositions is the technician-keyed upsert sink.
type TechnicianPositions interface {
	Upsert(ctx context.Context, technicianID string, p geo.Point) error
}

// LiveLocations is the location-record-keyed upsert sink.
type LiveLocations interface {
	Update(ctx context.Context, locationID string, p geo.Point) error
}

// PositionForwarder fans each live fix out to the two persistence sinks.
// Both calls are best-effort: failures are logged, never retried, and never
// block tracking. Either sink may be nil.
type PositionForwarder struct {
	technicianID string
	positions    TechnicianPositions
	live         LiveLocations

	mu         sync.Mutex
	locationID string
}

// NewPositionForwarder creates a forwarder for one technician.
func NewPositionForwarder(technicianID string, positions TechnicianPositions, live LiveLocations) *PositionForwarder {
	return &PositionForwarder{
		technicianID: technicianID,
		positions:    positions,
		live:         live,
	}
}

// SetLocationID supplies the location record id once it is known; until
// then the live-location sink is skipped.
func (f *PositionForwarder) SetLocationID(id string) {
	f.mu.Lock()
	f.locationID = id
	f.mu.Unlock()
}

// Record forwards one fix to both sinks. Implements the tracker's position
// sink contract.
func (f *PositionForwarder) Record(ctx context.Context, fix geo.Point) {
	ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	if f.positions != nil {
		if err := f.positions.Upsert(ctx, f.technicianID, fix); err != nil {
			log.Printf("Position upsert failed for technician %s: %v", f.technicianID, err)
		}
	}

	f.mu.Lock()
	locationID := f.locationID
	f.mu.Unlock()

	if f.live != nil && locationID != "" {
		if err := f.live.Update(ctx, locationID, fix); err != nil {
			log.Printf("Live location update failed for %s: %v", locationID, err)
		}
	}
}
