// Package db persists telemetry recording sessions to SQLite. A session is a
// named window of snapshot samples captured while the station runs; the
// drift-analysis tooling reads them back out.
package db

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the sessions database.
type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the sessions database at path and brings
// the schema up to date.
func Open(path string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sessions db: %w", err)
	}
	s := &Store{sqlDB}
	if err := s.migrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Not closing m: that would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Session is one recording window.
type Session struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Sample is one recorded telemetry row.
type Sample struct {
	RecordedAt  time.Time       `json:"recorded_at"`
	Yaw         float64         `json:"yaw"`
	Roll        float64         `json:"roll"`
	Pitch       float64         `json:"pitch"`
	YawRate     float64         `json:"yaw_rate"`
	Temperature float64         `json:"temperature"`
	TargetYaw   float64         `json:"target_yaw"`
	YawError    float64         `json:"yaw_error"`
	MotorPower  float64         `json:"motor_power"`
	Mode        string          `json:"mode"`
	Status      string          `json:"status"`
	Lux         map[int]float64 `json:"lux,omitempty"`
}

// StartSession opens a new recording window.
func (s *Store) StartSession(name string) (Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		Name:      name,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.Exec(
		`INSERT INTO sessions (session_id, name, started_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Name, sess.StartedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	return sess, nil
}

// EndSession closes a recording window. Ending an already-ended or unknown
// session is an error so a stale recorder cannot silently write on.
func (s *Store) EndSession(id string) error {
	res, err := s.Exec(
		`UPDATE sessions SET ended_at = ? WHERE session_id = ? AND ended_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("end session: no open session %s", id)
	}
	return nil
}

// AppendSample records one telemetry row into a session.
func (s *Store) AppendSample(sessionID string, sample Sample) error {
	luxJSON, err := json.Marshal(sample.Lux)
	if err != nil {
		return fmt.Errorf("append sample: encode lux: %w", err)
	}
	_, err = s.Exec(
		`INSERT INTO samples
			(session_id, recorded_at, yaw, roll, pitch, yaw_rate, temperature,
			 target_yaw, yaw_error, motor_power, mode, status, lux)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, sample.RecordedAt, sample.Yaw, sample.Roll, sample.Pitch,
		sample.YawRate, sample.Temperature, sample.TargetYaw, sample.YawError,
		sample.MotorPower, sample.Mode, sample.Status, string(luxJSON),
	)
	if err != nil {
		return fmt.Errorf("append sample: %w", err)
	}
	return nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(id string) (Session, error) {
	row := s.QueryRow(
		`SELECT session_id, name, started_at, ended_at FROM sessions WHERE session_id = ?`, id,
	)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.Name, &sess.StartedAt, &sess.EndedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, fmt.Errorf("session %s not found", id)
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions() ([]Session, error) {
	rows, err := s.Query(
		`SELECT session_id, name, started_at, ended_at FROM sessions ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.StartedAt, &sess.EndedAt); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Samples returns a session's rows in recording order.
func (s *Store) Samples(sessionID string) ([]Sample, error) {
	rows, err := s.Query(
		`SELECT recorded_at, yaw, roll, pitch, yaw_rate, temperature,
		        target_yaw, yaw_error, motor_power, mode, status, lux
		 FROM samples WHERE session_id = ? ORDER BY recorded_at`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var sm Sample
		var luxJSON string
		if err := rows.Scan(
			&sm.RecordedAt, &sm.Yaw, &sm.Roll, &sm.Pitch, &sm.YawRate,
			&sm.Temperature, &sm.TargetYaw, &sm.YawError, &sm.MotorPower,
			&sm.Mode, &sm.Status, &luxJSON,
		); err != nil {
			return nil, fmt.Errorf("load samples: %w", err)
		}
		if luxJSON != "" {
			if err := json.Unmarshal([]byte(luxJSON), &sm.Lux); err != nil {
				return nil, fmt.Errorf("load samples: decode lux: %w", err)
			}
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
