// Package publisher emits arrival notifications to downstream dispatch
// consumers. The tracking service calls it when a technician's geofence
// fires; delivery failures are the caller's to log, not retry.
package publisher

import (
	"context"
	"time"

	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// ArrivalAlert describes a technician crossing into the arrival radius of
// a destination.
type ArrivalAlert struct {
	TechnicianID  string
	DestinationID string
	Position      geo.Point
	ArrivedAt     time.Time
}

// ArrivalPublisher delivers arrival alerts to the message broker.
type ArrivalPublisher interface {
	PublishArrival(ctx context.Context, alert ArrivalAlert) error
}
