package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tolkaudit/tolkaudit/internal/audit"
)

// EngineVersion stamps every run with the pipeline engine revision that
// produced it. Bump when the report schema changes.
const EngineVersion = "2"

// Run statuses. Transitions are monotonic: queued → running →
// {completed|failed|cancelled}; queued may also go straight to cancelled.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// legalTransitions is the full audit run state machine.
var legalTransitions = map[string][]string{
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// ErrBadTransition rejects an illegal status change.
var ErrBadTransition = errors.New("illegal status transition")

// Run is one execution of the full pipeline against a fixed revision.
// Status is mutated only by the Orchestrator; runs are never deleted.
type Run struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	RevisionID    string          `json:"revision_id"`
	Status        string          `json:"status"`
	Profile       audit.Profile   `json:"profile"`
	PrimaryModel  string          `json:"primary_model"`
	FallbackModel string          `json:"fallback_model,omitempty"`
	EngineVersion string          `json:"engine_version"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	Findings      []audit.Finding `json:"findings,omitempty"`
	FailedStage   string          `json:"failed_stage,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Terminal reports whether the run reached a terminal status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// checkTransition validates a status change against the state machine.
func checkTransition(from, to string) error {
	for _, t := range legalTransitions[from] {
		if t == to {
			return nil
		}
	}
	return fmt.Errorf("%s -> %s: %w", from, to, ErrBadTransition)
}

// RunStore persists audit runs. The in-memory implementation below backs
// tests; internal/db provides the Postgres one.
type RunStore interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Update(ctx context.Context, id string, fn func(*Run) error) (*Run, error)
	ListByProject(ctx context.Context, projectID string) ([]Run, error)
}

// MemoryRunStore is an in-process RunStore.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewMemoryRunStore creates an empty MemoryRunStore.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*Run)}
}

func (m *MemoryRunStore) Create(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryRunStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryRunStore) Update(_ context.Context, id string, fn func(*Run) error) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err := fn(run); err != nil {
		return nil, err
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryRunStore) ListByProject(_ context.Context, projectID string) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for _, run := range m.runs {
		if run.ProjectID == projectID {
			out = append(out, *run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
