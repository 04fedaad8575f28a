package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tolkaudit/tolkaudit/internal/audit"
	"github.com/tolkaudit/tolkaudit/internal/orchestrator"
)

// RunStore is the Postgres-backed orchestrator.RunStore.
type RunStore struct {
	db *DB
}

// NewRunStore creates a RunStore over an open DB.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

var _ orchestrator.RunStore = (*RunStore)(nil)

const runColumns = `id, project_id, revision_id, status, profile, primary_model,
	fallback_model, engine_version, created_at, started_at, finished_at,
	failed_stage, failure_reason, COALESCE(findings, 'null'::jsonb)`

// Create inserts a new run row.
func (s *RunStore) Create(ctx context.Context, run *orchestrator.Run) error {
	findings, err := marshalFindings(run.Findings)
	if err != nil {
		return err
	}
	_, err = s.db.pool.Exec(ctx,
		`INSERT INTO audit_runs (id, project_id, revision_id, status, profile,
			primary_model, fallback_model, engine_version, created_at,
			started_at, finished_at, failed_stage, failure_reason, findings)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		run.ID, run.ProjectID, run.RevisionID, run.Status, run.Profile,
		run.PrimaryModel, run.FallbackModel, run.EngineVersion, run.CreatedAt,
		run.StartedAt, run.FinishedAt, run.FailedStage, run.FailureReason, findings)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Get returns a run by id.
func (s *RunStore) Get(ctx context.Context, id string) (*orchestrator.Run, error) {
	row := s.db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM audit_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, orchestrator.ErrRunNotFound)
	}
	return run, err
}

// Update performs a read-modify-write of one run under a row lock, so the
// orchestrator's status transitions stay serialized even across processes.
func (s *RunStore) Update(ctx context.Context, id string, fn func(*orchestrator.Run) error) (*orchestrator.Run, error) {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+runColumns+` FROM audit_runs WHERE id = $1 FOR UPDATE`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, orchestrator.ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(run); err != nil {
		return nil, err
	}

	findings, err := marshalFindings(run.Findings)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE audit_runs SET status=$2, started_at=$3, finished_at=$4,
			failed_stage=$5, failure_reason=$6, findings=$7
		 WHERE id = $1`,
		run.ID, run.Status, run.StartedAt, run.FinishedAt,
		run.FailedStage, run.FailureReason, findings)
	if err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit run update: %w", err)
	}
	return run, nil
}

// ListByProject returns a project's runs, oldest first.
func (s *RunStore) ListByProject(ctx context.Context, projectID string) ([]orchestrator.Run, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM audit_runs WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*orchestrator.Run, error) {
	var run orchestrator.Run
	var startedAt, finishedAt *time.Time
	var findings []byte
	err := row.Scan(&run.ID, &run.ProjectID, &run.RevisionID, &run.Status,
		&run.Profile, &run.PrimaryModel, &run.FallbackModel, &run.EngineVersion,
		&run.CreatedAt, &startedAt, &finishedAt,
		&run.FailedStage, &run.FailureReason, &findings)
	if err != nil {
		return nil, err
	}
	run.StartedAt = startedAt
	run.FinishedAt = finishedAt
	if string(findings) != "null" {
		var list []audit.Finding
		if err := json.Unmarshal(findings, &list); err != nil {
			return nil, fmt.Errorf("unmarshal findings for run %s: %w", run.ID, err)
		}
		run.Findings = list
	}
	return &run, nil
}

func marshalFindings(findings []audit.Finding) (interface{}, error) {
	if findings == nil {
		return nil, nil
	}
	data, err := json.Marshal(findings)
	if err != nil {
		return nil, fmt.Errorf("marshal findings: %w", err)
	}
	return data, nil
}
