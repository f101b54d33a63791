// Package persistence provides the SQLite run archive: one row per run, its
// topology, and its sampled time series.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/cagesim/internal/agents"
	"github.com/talgya/cagesim/internal/world"
)

// ErrNoRuns is returned by LatestRun on an empty archive.
var ErrNoRuns = errors.New("no runs stored")

// DB wraps a SQLite connection for the run archive.
type DB struct {
	conn *sqlx.DB
}

// Run is one archived simulation run.
type Run struct {
	ID        string    `db:"id" json:"id"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
	Seed      int64     `db:"seed" json:"seed"`
	Config    string    `db:"config" json:"config"` // YAML snapshot
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		seed INTEGER NOT NULL,
		config TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS regions (
		run_id TEXT NOT NULL REFERENCES runs(id),
		ord INTEGER NOT NULL,
		name TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		width REAL NOT NULL,
		height REAL NOT NULL,
		capacity INTEGER NOT NULL,
		PRIMARY KEY (run_id, ord)
	);

	CREATE TABLE IF NOT EXISTS flows (
		run_id TEXT NOT NULL REFERENCES runs(id),
		ord INTEGER NOT NULL,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		amount INTEGER NOT NULL,
		PRIMARY KEY (run_id, ord)
	);

	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		time REAL NOT NULL,
		susceptible INTEGER NOT NULL,
		infected INTEGER NOT NULL,
		recovered INTEGER NOT NULL,
		dead INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id, id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun stores a new run with its topology and returns the run ID.
func (db *DB) CreateRun(t world.Topology, seed int64, configYAML string) (string, error) {
	id := uuid.NewString()

	tx, err := db.conn.Beginx()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO runs (id, started_at, seed, config) VALUES (?, ?, ?, ?)",
		id, time.Now().UTC(), seed, configYAML,
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for i, r := range t.Regions {
		_, err := tx.Exec(`INSERT INTO regions
			(run_id, ord, name, x, y, width, height, capacity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, r.Name, r.X, r.Y, r.Width, r.Height, r.Capacity,
		)
		if err != nil {
			return "", fmt.Errorf("insert region %s: %w", r.Name, err)
		}
	}

	for i, f := range t.Flows {
		_, err := tx.Exec(
			"INSERT INTO flows (run_id, ord, source, destination, amount) VALUES (?, ?, ?, ?, ?)",
			id, i, f.Source, f.Destination, f.Amount,
		)
		if err != nil {
			return "", fmt.Errorf("insert flow %s->%s: %w", f.Source, f.Destination, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	slog.Info("run created", "run", id, "regions", len(t.Regions), "flows", len(t.Flows))
	return id, nil
}

// SaveSamples appends samples to a run in one transaction.
func (db *DB) SaveSamples(runID string, samples []world.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO samples
		(run_id, time, susceptible, infected, recovered, dead)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.Exec(runID, s.Time, s.Susceptible, s.Infected, s.Recovered, s.Dead); err != nil {
			return fmt.Errorf("insert sample at %g: %w", s.Time, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("samples saved", "run", runID, "count", len(samples))
	return nil
}

// LatestRun returns the most recently started run.
func (db *DB) LatestRun() (Run, error) {
	var r Run
	err := db.conn.Get(&r, "SELECT id, started_at, seed, config FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoRuns
	}
	return r, err
}

// GetRun looks up one run by ID.
func (db *DB) GetRun(id string) (Run, error) {
	var r Run
	err := db.conn.Get(&r, "SELECT id, started_at, seed, config FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNoRuns)
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs,
		"SELECT id, started_at, seed, config FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	return runs, err
}

// LoadTopology returns the topology a run was started with.
func (db *DB) LoadTopology(runID string) (world.Topology, error) {
	var t world.Topology
	err := db.conn.Select(&t.Regions,
		"SELECT name, x, y, width, height, capacity FROM regions WHERE run_id = ? ORDER BY ord",
		runID,
	)
	if err != nil {
		return world.Topology{}, fmt.Errorf("load regions: %w", err)
	}
	err = db.conn.Select(&t.Flows,
		"SELECT source, destination, amount FROM flows WHERE run_id = ? ORDER BY ord",
		runID,
	)
	if err != nil {
		return world.Topology{}, fmt.Errorf("load flows: %w", err)
	}
	return t, nil
}

type sampleRow struct {
	Time        float64 `db:"time"`
	Susceptible int     `db:"susceptible"`
	Infected    int     `db:"infected"`
	Recovered   int     `db:"recovered"`
	Dead        int     `db:"dead"`
}

// LoadSamples returns a run's time series in insertion order.
func (db *DB) LoadSamples(runID string) ([]world.Sample, error) {
	var rows []sampleRow
	err := db.conn.Select(&rows,
		"SELECT time, susceptible, infected, recovered, dead FROM samples WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, err
	}
	out := make([]world.Sample, len(rows))
	for i, r := range rows {
		out[i] = world.Sample{
			Time: r.Time,
			StageCounts: agents.StageCounts{
				Susceptible: r.Susceptible,
				Infected:    r.Infected,
				Recovered:   r.Recovered,
				Dead:        r.Dead,
			},
		}
	}
	return out, nil
}
