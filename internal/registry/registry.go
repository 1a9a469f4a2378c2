// Package registry keeps a queryable index of runs in an embedded libsql
// database. The index mirrors run.json documents; the run directories stay
// the source of truth and the registry can always be rebuilt from them.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/migrate"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/run"
)

// DefaultFile is the registry database name under the output root.
const DefaultFile = "runs.db"

// Entry is one indexed run.
type Entry struct {
	ID             string
	Mode           run.Mode
	Fold           int
	State          run.State
	Dataset        string
	ToolkitVersion string
	Checkpoint     string
	FailureReason  string
	ConfigJSON     string
	StartedAt      time.Time
	EndedAt        *time.Time
}

// Registry wraps the database handle. Safe for concurrent use.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if needed) the registry database at path and brings
// its schema up to date.
func Open(ctx context.Context, path string) (*Registry, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	// Embedded libsql serializes writers; a single connection avoids
	// SQLITE_BUSY churn under concurrent orchestrators.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping registry: %w", err)
	}
	if err := migrate.RunAll(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close releases the database handle.
func (r *Registry) Close() error { return r.db.Close() }

// Record upserts a run's current state. Implements trainer.Recorder.
func (r *Registry) Record(ctx context.Context, m *run.Metadata) error {
	var dataset, configJSON string
	if m.Config != nil {
		dataset = m.Config.Dataset
		if data, err := json.Marshal(m.Config); err == nil {
			configJSON = string(data)
		}
	}
	var endedAt any
	if m.EndedAt != nil {
		endedAt = m.EndedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, fold, state, dataset, toolkit_version,
			checkpoint, failure_reason, config, started_at, ended_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			checkpoint = excluded.checkpoint,
			failure_reason = excluded.failure_reason,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at
	`,
		m.ID, string(m.Mode), m.Fold, string(m.State), dataset, m.ToolkitVersion,
		m.Checkpoint, m.FailureReason, configJSON,
		m.StartedAt.UTC().Format(time.RFC3339Nano), endedAt,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", m.ID, err)
	}
	return nil
}

// ListOptions filter List results. Zero values mean "no filter".
type ListOptions struct {
	Dataset string
	State   run.State
	Limit   int
}

// List returns indexed runs, newest first.
func (r *Registry) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	query := `
		SELECT id, mode, fold, state, dataset, toolkit_version,
			checkpoint, failure_reason, config, started_at, ended_at
		FROM runs WHERE 1=1`
	var args []any
	if opts.Dataset != "" {
		query += ` AND dataset = ?`
		args = append(args, opts.Dataset)
	}
	if opts.State != "" {
		query += ` AND state = ?`
		args = append(args, string(opts.State))
	}
	query += ` ORDER BY started_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns one run by ID, or sql.ErrNoRows.
func (r *Registry) Get(ctx context.Context, id string) (*Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, mode, fold, state, dataset, toolkit_version,
			checkpoint, failure_reason, config, started_at, ended_at
		FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	e, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e           Entry
		mode, state string
		startedAt   string
		endedAt     sql.NullString
	)
	if err := rows.Scan(&e.ID, &mode, &e.Fold, &state, &e.Dataset,
		&e.ToolkitVersion, &e.Checkpoint, &e.FailureReason, &e.ConfigJSON,
		&startedAt, &endedAt); err != nil {
		return Entry{}, fmt.Errorf("scan run row: %w", err)
	}
	e.Mode = run.Mode(mode)
	e.State = run.State(state)

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse started_at for %s: %w", e.ID, err)
	}
	e.StartedAt = t

	if endedAt.Valid && endedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Entry{}, fmt.Errorf("parse ended_at for %s: %w", e.ID, err)
		}
		e.EndedAt = &t
	}
	return e, nil
}
