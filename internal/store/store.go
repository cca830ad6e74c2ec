package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttendanceRecord is one successful recognition.
type AttendanceRecord struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	Emotion              string    `json:"emotion,omitempty"`
	Message              string    `json:"message"`
	AttendanceTime       string    `json:"attendance_time,omitempty"`
	LightThreshold       float64   `json:"light_threshold"`
	RecognitionThreshold float64   `json:"recognition_threshold"`
	RecordedAt           time.Time `json:"recorded_at"`
}

// Registration is the latest enrollment of a person.
type Registration struct {
	Name         string    `json:"name"`
	ProfilePath  string    `json:"profile_path"`
	Message      string    `json:"message"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Store keeps the attendance and registration log in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Auto-Migration
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS attendance_records (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			emotion TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			attendance_time TEXT NOT NULL DEFAULT '',
			light_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
			recognition_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS registrations (
			name TEXT PRIMARY KEY,
			profile_path TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS attendance_records_recorded_at_idx ON attendance_records (recorded_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

func (s *Store) Close() {
	s.pool.Close()
}

// RecordAttendance appends a recognition to the log. Missing ID and time are filled in.
func (s *Store) RecordAttendance(ctx context.Context, rec AttendanceRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attendance_records
			(id, name, emotion, message, attendance_time, light_threshold, recognition_threshold, recorded_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID.String(), rec.Name, rec.Emotion, rec.Message, rec.AttendanceTime,
		rec.LightThreshold, rec.RecognitionThreshold, rec.RecordedAt)
	return err
}

// RecordRegistration stores the latest registration for a name, replacing an earlier one.
func (s *Store) RecordRegistration(ctx context.Context, reg Registration) error {
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO registrations (name, profile_path, message, registered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
			SET profile_path = EXCLUDED.profile_path,
			    message = EXCLUDED.message,
			    registered_at = EXCLUDED.registered_at
	`, reg.Name, reg.ProfilePath, reg.Message, reg.RegisteredAt)
	return err
}

// ListAttendance returns the most recent records first. A non-empty name filters by person.
func (s *Store) ListAttendance(ctx context.Context, name string, limit int) ([]AttendanceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, name, emotion, message, attendance_time, light_threshold, recognition_threshold, recorded_at
		FROM attendance_records
		WHERE $1::text = '' OR name = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AttendanceRecord
	for rows.Next() {
		var r AttendanceRecord
		var id string
		if err := rows.Scan(&id, &r.Name, &r.Emotion, &r.Message, &r.AttendanceTime,
			&r.LightThreshold, &r.RecognitionThreshold, &r.RecordedAt); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad record id %q: %w", id, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListRegistrations returns every registered name, alphabetically.
func (s *Store) ListRegistrations(ctx context.Context) ([]Registration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, profile_path, message, registered_at
		FROM registrations
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Registration, error) {
		var r Registration
		err := row.Scan(&r.Name, &r.ProfilePath, &r.Message, &r.RegisteredAt)
		return r, err
	})
}

// Reset drops all application tables to clear the database state.
// The next New recreates them.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS attendance_records CASCADE;
		DROP TABLE IF EXISTS registrations CASCADE;
	`)
	return err
}
