package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// Open opens a Postgres connection pool for the position sinks.
func Open(databaseURL string, maxOpenConns, maxIdleConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}

	return db, nil
}

// InitSchema creates the position table for local runs.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS technician_positions (
			technician_id TEXT PRIMARY KEY,
			latitude      DOUBLE PRECISION NOT NULL,
			longitude     DOUBLE PRECISION NOT NULL,
			recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

const upsertPositionSQL = `
	INSERT INTO technician_positions (technician_id, latitude, longitude, recorded_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (technician_id) DO UPDATE
	SET latitude = EXCLUDED.latitude,
	    longitude = EXCLUDED.longitude,
	    recorded_at = now()`

// TechnicianPositionStore upserts the latest known position per technician.
type TechnicianPositionStore struct {
	db *sql.DB
}

// NewTechnicianPositionStore creates a store over an open database.
func NewTechnicianPositionStore(db *sql.DB) *TechnicianPositionStore {
	return &TechnicianPositionStore{db: db}
}

// Upsert writes the technician's current position, replacing any previous
// row for the same technician.
func (s *TechnicianPositionStore) Upsert(ctx context.Context, technicianID string, p geo.Point) error {
	if _, err := s.db.ExecContext(ctx, upsertPositionSQL, technicianID, p.Latitude, p.Longitude); err != nil {
		return fmt.Errorf("upsert technician position: %w", err)
	}
	return nil
}
