package verify

import (
	"github.com/tolkaudit/tolkaudit/internal/events"
)

// Phase is the coarse verification phase. Transitions are strictly ordered;
// folding events can only move the phase forward.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhasePlanReady        Phase = "plan-ready"
	PhaseSandboxRunning   Phase = "sandbox-running"
	PhaseSandboxCompleted Phase = "sandbox-completed"
	PhaseSandboxFailed    Phase = "sandbox-failed"
	PhaseSandboxSkipped   Phase = "sandbox-skipped"
	PhaseCompleted        Phase = "completed"
	PhaseFailed           Phase = "failed"
)

// phaseRank orders phases so a stale or duplicated progress event can never
// move the fold backwards.
var phaseRank = map[Phase]int{
	PhaseIdle:             0,
	PhasePlanReady:        1,
	PhaseSandboxRunning:   2,
	PhaseSandboxCompleted: 3,
	PhaseSandboxFailed:    3,
	PhaseSandboxSkipped:   3,
	PhaseCompleted:        4,
	PhaseFailed:           4,
}

// StepStatus is the lifecycle status of one sandbox step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepTimeout   StepStatus = "timeout"
)

// stepRank orders step statuses: pending < running < terminal. Terminal
// statuses never regress, which makes the fold idempotent under duplicate
// delivery and commutative for terminal updates.
var stepRank = map[StepStatus]int{
	StepPending:   0,
	StepRunning:   1,
	StepCompleted: 2,
	StepFailed:    2,
	StepSkipped:   2,
	StepTimeout:   2,
}

// StepState is one sandbox step's observed state.
type StepState struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"`
	Status     StepStatus `json:"status"`
	Optional   bool       `json:"optional"`
	DurationMs int64      `json:"duration_ms,omitempty"`
}

// ScanState is one static scan's observed state.
type ScanState struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Summary string `json:"summary,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Progress is the transient per-run verification state. It is never stored
// directly: consumers rebuild it by folding the run's verify-queue events in
// arrival order with Apply.
type Progress struct {
	Phase  Phase       `json:"phase"`
	Steps  []StepState `json:"steps"`
	Scans  []ScanState `json:"scans,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// Event names on the verify queue.
const (
	EventProgress     = "progress"
	EventSandboxStep  = "sandbox-step"
	EventSecurityScan = "security-scan"
)

// progressPayload is the wire payload for phase-level events.
type progressPayload struct {
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason,omitempty"`
}

// stepPayload is the wire payload for step-level events.
type stepPayload struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"`
	Status     StepStatus `json:"status"`
	Optional   bool       `json:"optional"`
	DurationMs int64      `json:"duration_ms,omitempty"`
}

// scanPayload is the wire payload for scan events.
type scanPayload struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Summary string `json:"summary,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// NewProgress returns the initial fold state for a plan: phase idle, every
// step pending.
func NewProgress(plan Plan) *Progress {
	p := &Progress{Phase: PhaseIdle}
	for _, s := range plan.Steps {
		p.Steps = append(p.Steps, StepState{
			ID:       s.ID,
			Action:   s.Action,
			Status:   StepPending,
			Optional: s.Optional,
		})
	}
	return p
}

// Apply folds one verify-queue event into the progress state. Unknown event
// names, duplicate deliveries, and regressions are no-ops, so any
// interleaving of the same event set converges to the same final state.
func (p *Progress) Apply(e events.Event) {
	switch e.Name {
	case EventProgress:
		var pl progressPayload
		if err := e.DecodePayload(&pl); err != nil {
			return
		}
		if phaseRank[pl.Phase] < phaseRank[p.Phase] {
			return
		}
		if phaseRank[pl.Phase] == phaseRank[p.Phase] && pl.Phase != p.Phase {
			return // conflicting terminal phase at same rank: first wins
		}
		p.Phase = pl.Phase
		if pl.Reason != "" {
			p.Reason = pl.Reason
		}

	case EventSandboxStep:
		var pl stepPayload
		if err := e.DecodePayload(&pl); err != nil {
			return
		}
		for i := range p.Steps {
			if p.Steps[i].ID != pl.ID {
				continue
			}
			cur := p.Steps[i].Status
			if stepRank[pl.Status] < stepRank[cur] {
				return
			}
			if stepRank[pl.Status] == stepRank[cur] && pl.Status != cur {
				return
			}
			p.Steps[i].Status = pl.Status
			if pl.DurationMs > 0 {
				p.Steps[i].DurationMs = pl.DurationMs
			}
			return
		}
		// Step not in the seeded plan: append so a consumer without the
		// plan still converges.
		p.Steps = append(p.Steps, StepState{
			ID:         pl.ID,
			Action:     pl.Action,
			Status:     pl.Status,
			Optional:   pl.Optional,
			DurationMs: pl.DurationMs,
		})

	case EventSecurityScan:
		var pl scanPayload
		if err := e.DecodePayload(&pl); err != nil {
			return
		}
		for i := range p.Scans {
			if p.Scans[i].Name == pl.Name {
				return // scans report once; duplicates are no-ops
			}
		}
		p.Scans = append(p.Scans, ScanState(pl))
	}
}

// Terminal reports whether the phase is a terminal verification result.
func (p *Progress) Terminal() bool {
	return p.Phase == PhaseCompleted || p.Phase == PhaseFailed
}
