package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/justineMD2002/FSM-sub001/internal/cache"
	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
	"github.com/justineMD2002/FSM-sub001/internal/position"
	"github.com/justineMD2002/FSM-sub001/internal/publisher"
	"github.com/justineMD2002/FSM-sub001/internal/store"
	"github.com/justineMD2002/FSM-sub001/internal/tracking"
)

var (
	// ErrSessionActive is returned when a technician already has a live
	// tracking session.
	ErrSessionActive = errors.New("tracking session already active")
	// ErrNoSession is returned when no session exists for a technician.
	ErrNoSession = errors.New("no tracking session")
)

const publishTimeout = 5 * time.Second

// SourceFactory yields the position source for a technician. Each
// technician publishes on their own feed topic.
type SourceFactory func(technicianID string) position.Source

// NavigationService owns tracking sessions and overview planning. It is
// the layer HTTP handlers talk to: one session per technician, arrival
// alerts fanned out to the dispatch broker, positions persisted as they
// stream in.
type NavigationService struct {
	sources      SourceFactory
	routes       tracking.RouteProvider
	geocoder     tracking.Geocoder
	geocodeCache *cache.Cache
	alerts       publisher.ArrivalPublisher
	positions    store.TechnicianPositions
	live         store.LiveLocations

	settings tracking.Settings

	mu       sync.Mutex
	sessions map[string]*session
	planners map[string]*tracking.MultiRouter
}

type session struct {
	technicianID string
	tracker      *tracking.Tracker
}

// NewNavigationService creates a NavigationService. alerts, positions and
// live may be nil; the corresponding side effects are skipped.
func NewNavigationService(
	sources SourceFactory,
	routes tracking.RouteProvider,
	geocoder tracking.Geocoder,
	geocodeCache *cache.Cache,
	alerts publisher.ArrivalPublisher,
	positions store.TechnicianPositions,
	live store.LiveLocations,
) *NavigationService {
	return &NavigationService{
		sources:      sources,
		routes:       routes,
		geocoder:     geocoder,
		geocodeCache: geocodeCache,
		alerts:       alerts,
		positions:    positions,
		live:         live,
		sessions:     make(map[string]*session),
		planners:     make(map[string]*tracking.MultiRouter),
	}
}

// SetSettings overrides the default session tuning for all future
// sessions. Call before handling requests.
func (s *NavigationService) SetSettings(settings tracking.Settings) {
	s.settings = settings
}

// StartTracking begins a live tracking session for a technician. A
// technician has at most one session; call StopTracking first to replace
// it.
func (s *NavigationService) StartTracking(ctx context.Context, technicianID string, dest tracking.Destination, trackLive bool) error {
	if technicianID == "" {
		return fmt.Errorf("technician id is required")
	}

	tracker := tracking.NewTracker(s.sources(technicianID), s.routes, s.geocoder, s.geocodeCache)
	tracker.SetSettings(s.settings)

	forwarder := store.NewPositionForwarder(technicianID, s.positions, s.live)
	forwarder.SetLocationID(dest.ID)
	tracker.SetPositionSink(forwarder)
	tracker.SetListener(s.sessionListener(technicianID, tracker))

	s.mu.Lock()
	if _, exists := s.sessions[technicianID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("technician %s: %w", technicianID, ErrSessionActive)
	}
	s.sessions[technicianID] = &session{technicianID: technicianID, tracker: tracker}
	s.mu.Unlock()

	if err := tracker.Start(ctx, dest, trackLive); err != nil {
		s.mu.Lock()
		delete(s.sessions, technicianID)
		s.mu.Unlock()
		return fmt.Errorf("start tracking for %s: %w", technicianID, err)
	}

	log.Printf("Tracking started: technician=%s destination=%s live=%t", technicianID, dest.ID, trackLive)
	return nil
}

// StopTracking ends a technician's session. Stopping an unknown
// technician returns ErrNoSession.
func (s *NavigationService) StopTracking(technicianID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[technicianID]
	if ok {
		delete(s.sessions, technicianID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("technician %s: %w", technicianID, ErrNoSession)
	}

	sess.tracker.Stop()
	log.Printf("Tracking stopped: technician=%s", technicianID)
	return nil
}

// Snapshot returns the current state of a technician's session.
func (s *NavigationService) Snapshot(technicianID string) (tracking.SessionSnapshot, error) {
	s.mu.Lock()
	sess, ok := s.sessions[technicianID]
	s.mu.Unlock()

	if !ok {
		return tracking.SessionSnapshot{}, fmt.Errorf("technician %s: %w", technicianID, ErrNoSession)
	}
	return sess.tracker.Snapshot(), nil
}

// ActiveSessions lists technician ids with a live session.
func (s *NavigationService) ActiveSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// PlanOverview resolves and routes a technician's day of destinations and
// returns the overview map state. Each technician has their own retained
// planner, read back through Focus and OverviewSnapshot, until their next
// call replaces it.
func (s *NavigationService) PlanOverview(ctx context.Context, technicianID string, destinations []tracking.Destination) (*tracking.Overview, error) {
	if technicianID == "" {
		return nil, fmt.Errorf("technician id is required")
	}

	router := tracking.NewMultiRouter(s.sources(technicianID), s.routes, s.geocoder, s.geocodeCache)

	overview, err := router.Initialize(ctx, destinations)
	if err != nil {
		return nil, fmt.Errorf("plan overview: %w", err)
	}

	s.mu.Lock()
	s.planners[technicianID] = router
	s.mu.Unlock()

	return overview, nil
}

// Focus returns the coordinate to center on for a destination in the
// technician's planned overview.
func (s *NavigationService) Focus(technicianID, destinationID string) (geo.Point, bool) {
	s.mu.Lock()
	planner := s.planners[technicianID]
	s.mu.Unlock()

	if planner == nil {
		return geo.Point{}, false
	}
	return planner.Focus(destinationID)
}

// OverviewSnapshot returns the technician's most recently planned
// overview, or nil.
func (s *NavigationService) OverviewSnapshot(technicianID string) *tracking.Overview {
	s.mu.Lock()
	planner := s.planners[technicianID]
	s.mu.Unlock()

	if planner == nil {
		return nil
	}
	return planner.Snapshot()
}

// StopAll ends every session. Used on shutdown.
func (s *NavigationService) StopAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.tracker.Stop()
	}
}

// sessionListener forwards arrival events to the alert broker. Publishing
// happens off the session's update path so a slow broker never stalls
// position handling.
func (s *NavigationService) sessionListener(technicianID string, tracker *tracking.Tracker) tracking.Listener {
	return func(e tracking.Event) {
		switch e.Kind {
		case tracking.EventArrived:
			if s.alerts == nil {
				return
			}
			snap := tracker.Snapshot()
			alert := publisher.ArrivalAlert{
				TechnicianID:  technicianID,
				DestinationID: e.DestinationID,
				ArrivedAt:     time.Now(),
			}
			if snap.CurrentPosition != nil {
				alert.Position = *snap.CurrentPosition
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
				defer cancel()
				if err := s.alerts.PublishArrival(ctx, alert); err != nil {
					log.Printf("Failed to publish arrival alert for %s: %v", technicianID, err)
				}
			}()
		case tracking.EventError:
			if e.Err != nil {
				log.Printf("Tracking error: technician=%s destination=%s err=%v", technicianID, e.DestinationID, e.Err)
			}
		}
	}
}
