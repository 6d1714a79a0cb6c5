package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// liveLocationsKey is the geo set holding the last fix per location record.
const liveLocationsKey = "fleet:live_locations"

// LiveLocationStore keeps last-known coordinates in Redis so the dispatch
// map can query technicians near a job site.
type LiveLocationStore struct {
	rdb *redis.Client
}

// NewLiveLocationStore creates a store over an open Redis client.
func NewLiveLocationStore(rdb *redis.Client) *LiveLocationStore {
	return &LiveLocationStore{rdb: rdb}
}

// Update upserts the fix for a location record id: the geo set member for
// radius queries plus a hash with the raw fields.
func (s *LiveLocationStore) Update(ctx context.Context, locationID string, p geo.Point) error {
	if err := s.rdb.GeoAdd(ctx, liveLocationsKey, &redis.GeoLocation{
		Name:      locationID,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
	}).Err(); err != nil {
		return fmt.Errorf("geoadd live location: %w", err)
	}

	key := fmt.Sprintf("location:%s", locationID)
	if err := s.rdb.HSet(ctx, key,
		"latitude", p.Latitude,
		"longitude", p.Longitude,
		"updated_at", time.Now().Unix(),
	).Err(); err != nil {
		return fmt.Errorf("hset live location: %w", err)
	}

	return nil
}
