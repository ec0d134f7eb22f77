// Package telemetry persists the monitor loop's periodic samples in a
// local SQLite file, so output history survives daemon restarts and can
// be pulled over the API.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // cgo-free driver; cross-compiles for the Pi

	"eda2power/internal/controller"
	"eda2power/internal/output"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at  INTEGER NOT NULL,
	output    TEXT    NOT NULL,
	is_on     INTEGER NOT NULL,
	volts     REAL    NOT NULL,
	milliamps REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_taken_at ON readings (taken_at);

CREATE TABLE IF NOT EXISTS environment (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at    INTEGER NOT NULL,
	humidity    REAL    NOT NULL,
	temperature REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS environment_taken_at ON environment (taken_at);
`

// Reading is one stored output sample.
type Reading struct {
	TakenAt   time.Time `json:"taken_at"`
	Output    string    `json:"output"`
	On        bool      `json:"on"`
	Volts     float64   `json:"volts"`
	MilliAmps float64   `json:"milliamps"`
}

// EnvSample is one stored climate sample.
type EnvSample struct {
	TakenAt     time.Time `json:"taken_at"`
	Humidity    float64   `json:"humidity"`
	Temperature float64   `json:"temperature"`
}

// Store is a SQLite-backed sample archive. It is safe for concurrent
// use; database/sql serialises access.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check: the monitor loop records through this store.
var _ controller.Recorder = (*Store)(nil)

// Open opens (creating if needed) the telemetry database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open telemetry db %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init telemetry schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record stores one monitor sample: all output readings plus, when
// available, the climate. Everything lands in a single transaction with
// a single timestamp.
func (s *Store) Record(ctx context.Context, readings map[output.Name]controller.Reading, env *controller.Environment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record telemetry: %w", err)
	}
	defer tx.Rollback()

	takenAt := s.now().Unix()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO readings (taken_at, output, is_on, volts, milliamps) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("record telemetry: %w", err)
	}
	defer stmt.Close()

	for _, n := range output.All() {
		r, ok := readings[n]
		if !ok {
			continue
		}
		if _, err := stmt.ExecContext(ctx, takenAt, string(n), r.On, r.Volts, r.MilliAmps); err != nil {
			return fmt.Errorf("record reading %s: %w", string(n), err)
		}
	}

	if env != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO environment (taken_at, humidity, temperature) VALUES (?, ?, ?)`,
			takenAt, env.Humidity, env.Temperature); err != nil {
			return fmt.Errorf("record environment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record telemetry: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest output readings, newest
// first, outputs ordered by name within a sample.
func (s *Store) Recent(ctx context.Context, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = 32
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT taken_at, output, is_on, volts, milliamps
		   FROM readings ORDER BY taken_at DESC, output ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent readings: %w", err)
	}
	defer rows.Close()

	out := make([]Reading, 0, limit)
	for rows.Next() {
		var r Reading
		var ts int64
		if err := rows.Scan(&ts, &r.Output, &r.On, &r.Volts, &r.MilliAmps); err != nil {
			return nil, fmt.Errorf("recent readings: %w", err)
		}
		r.TakenAt = time.Unix(ts, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentEnv returns up to limit of the newest climate samples, newest
// first.
func (s *Store) RecentEnv(ctx context.Context, limit int) ([]EnvSample, error) {
	if limit <= 0 {
		limit = 24
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT taken_at, humidity, temperature
		   FROM environment ORDER BY taken_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent environment: %w", err)
	}
	defer rows.Close()

	out := make([]EnvSample, 0, limit)
	for rows.Next() {
		var e EnvSample
		var ts int64
		if err := rows.Scan(&ts, &e.Humidity, &e.Temperature); err != nil {
			return nil, fmt.Errorf("recent environment: %w", err)
		}
		e.TakenAt = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes samples older than the retention window and returns how
// many reading rows were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).Unix()

	res, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE taken_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM environment WHERE taken_at < ?`, cutoff); err != nil {
		return removed, fmt.Errorf("prune environment: %w", err)
	}
	return removed, nil
}
