package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the Postgres connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to the database at the given URL.
func Open(ctx context.Context, url string) (*DB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close closes the connection pool.
func (d *DB) Close() {
	d.pool.Close()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_events (
    id         BIGSERIAL PRIMARY KEY,
    project_id TEXT,
    queue      TEXT NOT NULL,
    job_id     TEXT NOT NULL,
    name       TEXT NOT NULL,
    payload    JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, id);
CREATE INDEX IF NOT EXISTS idx_job_events_created ON job_events(created_at);

CREATE TABLE IF NOT EXISTS audit_runs (
    id             TEXT PRIMARY KEY,
    project_id     TEXT NOT NULL,
    revision_id    TEXT NOT NULL,
    status         TEXT NOT NULL CHECK(status IN ('queued','running','completed','failed','cancelled')),
    profile        TEXT NOT NULL,
    primary_model  TEXT NOT NULL,
    fallback_model TEXT NOT NULL DEFAULT '',
    engine_version TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    started_at     TIMESTAMPTZ,
    finished_at    TIMESTAMPTZ,
    failed_stage   TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    findings       JSONB
);
CREATE INDEX IF NOT EXISTS idx_audit_runs_project ON audit_runs(project_id, created_at);
`

// Migrate applies the database schema.
func (d *DB) Migrate(ctx context.Context) error {
	var count int
	err := d.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM schema_version WHERE version = 1`).Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_version (version) VALUES (1) ON CONFLICT DO NOTHING`); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit(ctx)
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset(ctx context.Context) error {
	tables := []string{"job_events", "audit_runs", "schema_version"}
	for _, t := range tables {
		if _, err := d.pool.Exec(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate(ctx)
}

// PruneEvents deletes job events older than the retention window. Events are
// never mutated during a run's lifetime; pruning is a policy choice, not a
// correctness requirement.
func (d *DB) PruneEvents(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	tag, err := d.pool.Exec(ctx,
		`DELETE FROM job_events WHERE created_at < now() - make_interval(days => $1)`,
		retentionDays)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}
