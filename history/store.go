// Package history keeps a journal of recipe runs and their progress events.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mastercactapus/hotplate/engine"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

var (
	// ErrNotFound is returned when a run ID is unknown.
	ErrNotFound = errors.New("run not found")

	// ErrSchemaMismatch indicates the database was created by an incompatible version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// Run is one recipe execution.
type Run struct {
	ID       string     `json:"id" yaml:"id"`
	Recipe   string     `json:"recipe" yaml:"recipe"`
	Steps    int        `json:"steps" yaml:"steps"`
	Started  time.Time  `json:"started" yaml:"started"`
	Finished *time.Time `json:"finished,omitempty" yaml:"finished,omitempty"`
	Phase    string     `json:"phase" yaml:"phase"`
	Error    string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Record is a journaled progress event.
type Record struct {
	Seq   int          `json:"seq" yaml:"seq"`
	Time  time.Time    `json:"time" yaml:"time"`
	Event engine.Event `json:"event" yaml:"event"`
}

// Store persists runs in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("ensure history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; the journal is appended from a single goroutine per run
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if exists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Begin records the start of a run and returns it with a fresh ID.
func (s *Store) Begin(ctx context.Context, recipeName string, steps int) (Run, error) {
	run := Run{
		ID:      uuid.NewString(),
		Recipe:  recipeName,
		Steps:   steps,
		Started: s.now().UTC().Truncate(time.Millisecond),
		Phase:   engine.PhaseStarting.String(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, recipe, steps, started_at, phase) VALUES (?, ?, ?, ?, ?)",
		run.ID, run.Recipe, run.Steps, run.Started.UnixMilli(), run.Phase,
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Append journals one event of a run.
func (s *Store) Append(ctx context.Context, runID string, seq int, ev engine.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (run_id, seq, at, type, payload) VALUES (?, ?, ?, ?, ?)",
		runID, seq, s.now().UnixMilli(), string(ev.Type), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", seq, err)
	}
	return nil
}

// Finish records the outcome of a run.
func (s *Store) Finish(ctx context.Context, runID string, res engine.Result) error {
	var msg string
	if res.Err != nil {
		msg = res.Err.Error()
	}
	r, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, phase = ?, error = ? WHERE id = ?",
		s.now().UnixMilli(), res.Phase.String(), msg, runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = "id, recipe, steps, started_at, finished_at, phase, error"

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var (
		run      Run
		started  int64
		finished sql.NullInt64
	)
	err := row.Scan(&run.ID, &run.Recipe, &run.Steps, &started, &finished, &run.Phase, &run.Error)
	if err != nil {
		return Run{}, err
	}
	run.Started = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		run.Finished = &t
	}
	return run, nil
}

// Runs lists the most recent runs first. A limit <= 0 returns all runs.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns a single run.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	return run, nil
}

// Events returns the journaled events of a run in order.
func (s *Store) Events(ctx context.Context, id string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT seq, at, payload FROM events WHERE run_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			rec     Record
			at      int64
			payload string
		)
		if err := rows.Scan(&rec.Seq, &at, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Event); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", rec.Seq, err)
		}
		rec.Time = time.UnixMilli(at).UTC()
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
