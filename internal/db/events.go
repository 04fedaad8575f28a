package db

import (
	"context"
	"fmt"

	"github.com/tolkaudit/tolkaudit/internal/events"
)

// EventStore is the Postgres-backed events.Store. Append order per job id is
// preserved by the serial primary key.
type EventStore struct {
	db *DB
}

// NewEventStore creates an EventStore over an open DB.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

var _ events.Store = (*EventStore)(nil)

// Append inserts one event and assigns its id.
func (s *EventStore) Append(ctx context.Context, e *events.Event) error {
	var payload interface{}
	if len(e.Payload) > 0 {
		payload = []byte(e.Payload)
	}
	err := s.db.pool.QueryRow(ctx,
		`INSERT INTO job_events (project_id, queue, job_id, name, payload, created_at)
		 VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6)
		 RETURNING id`,
		e.ProjectID, e.Queue, e.JobID, e.Name, payload, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

// ListByJob returns all events for a job in append order.
func (s *EventStore) ListByJob(ctx context.Context, jobID string) ([]events.Event, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT id, COALESCE(project_id, ''), queue, job_id, name, COALESCE(payload, 'null'::jsonb), created_at
		 FROM job_events WHERE job_id = $1 ORDER BY id`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Queue, &e.JobID, &e.Name, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		if string(payload) != "null" {
			e.Payload = payload
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
