// Package summary records per-epoch training metrics in a SQLite database
// and renders them as loss curves.
package summary

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUnknownRun is returned for a run id that is not in the store.
var ErrUnknownRun = errors.New("unknown run")

// Store is a summary database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Run describes one solver invocation.
type Run struct {
	ID         string
	Mode       string
	Logdir     string
	Config     string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// Point is one scalar value at an epoch.
type Point struct {
	Epoch int
	Value float64
}

// Open opens (creating if needed) the database at path and applies
// pending migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open summary db: %w", err)
	}
	// A single connection serializes writers and keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: s.logger}

	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger on top of slog.
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf("[migrate] "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun registers a new run and returns its id.
func (s *Store) StartRun(mode, logdir, config string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, mode, logdir, config, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, mode, logdir, config, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the end time of a run.
func (s *Store) FinishRun(id string) error {
	res, err := s.db.Exec(`UPDATE runs SET finished_at = ? WHERE run_id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return nil
}

// Runs returns all runs, oldest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT run_id, mode, logdir, config, started_at, finished_at FROM runs ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Mode, &r.Logdir, &r.Config, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AddScalars stores the values of one epoch. Re-adding a tag for the same
// epoch overwrites it.
func (s *Store) AddScalars(runID string, epoch int, values map[string]float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO scalars (run_id, epoch, tag, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	tags := make([]string, 0, len(values))
	for tag := range values {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if _, err := stmt.Exec(runID, epoch, tag, values[tag]); err != nil {
			return fmt.Errorf("insert scalar %s: %w", tag, err)
		}
	}
	return tx.Commit()
}

// Scalars returns the history of one tag ordered by epoch.
func (s *Store) Scalars(runID, tag string) ([]Point, error) {
	rows, err := s.db.Query(
		`SELECT epoch, value FROM scalars WHERE run_id = ? AND tag = ? ORDER BY epoch`, runID, tag)
	if err != nil {
		return nil, fmt.Errorf("query scalars: %w", err)
	}
	defer rows.Close()

	var pts []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Epoch, &p.Value); err != nil {
			return nil, fmt.Errorf("scan scalar: %w", err)
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

// Tags returns the distinct tags recorded for a run, sorted.
func (s *Store) Tags(runID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT tag FROM scalars WHERE run_id = ? ORDER BY tag`, runID)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
