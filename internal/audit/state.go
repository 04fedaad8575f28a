package audit

import (
	"github.com/tolkaudit/tolkaudit/internal/events"
)

// Stage names, in pipeline order.
const (
	StageVerifyPlan      = "verify-plan"
	StageSecurityScans   = "security-scans"
	StageSandboxChecks   = "sandbox-checks"
	StageAgentDiscovery  = "agent-discovery"
	StageAgentValidation = "agent-validation"
	StageAgentSynthesis  = "agent-synthesis"
	StageQualityGate     = "quality-gate"
)

// StageOrder is the fixed stage sequence of every audit run.
var StageOrder = []string{
	StageVerifyPlan,
	StageSecurityScans,
	StageSandboxChecks,
	StageAgentDiscovery,
	StageAgentValidation,
	StageAgentSynthesis,
	StageQualityGate,
}

// StageStatus is one stage's status within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// stageRank orders statuses so folds never regress a stage. A stage that
// reached a terminal status stays there for the rest of the run.
var stageRank = map[StageStatus]int{
	StagePending:   0,
	StageRunning:   1,
	StageCompleted: 2,
	StageFailed:    2,
	StageSkipped:   2,
}

// StageState is one stage's observed state.
type StageState struct {
	Name   string      `json:"name"`
	Status StageStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// PipelineState is the transient per-run stage map. Consumers rebuild it by
// folding audit-queue events in arrival order.
type PipelineState struct {
	Stages []StageState `json:"stages"`
}

// EventStage is the audit-queue event name for stage transitions.
const EventStage = "stage"

// stageEventPayload is the wire payload for stage transitions.
type stageEventPayload struct {
	Stage  string      `json:"stage"`
	Status StageStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// NewPipelineState returns the initial state: every stage pending.
func NewPipelineState() *PipelineState {
	ps := &PipelineState{}
	for _, name := range StageOrder {
		ps.Stages = append(ps.Stages, StageState{Name: name, Status: StagePending})
	}
	return ps
}

// Apply folds one audit-queue event into the state. Duplicates and
// regressions are no-ops.
func (ps *PipelineState) Apply(e events.Event) {
	if e.Name != EventStage {
		return
	}
	var pl stageEventPayload
	if err := e.DecodePayload(&pl); err != nil {
		return
	}
	for i := range ps.Stages {
		if ps.Stages[i].Name != pl.Stage {
			continue
		}
		cur := ps.Stages[i].Status
		if stageRank[pl.Status] < stageRank[cur] {
			return
		}
		if stageRank[pl.Status] == stageRank[cur] && pl.Status != cur {
			return
		}
		ps.Stages[i].Status = pl.Status
		if pl.Detail != "" {
			ps.Stages[i].Detail = pl.Detail
		}
		return
	}
}

// Current returns the name of the running stage, or "" if none.
func (ps *PipelineState) Current() string {
	for _, s := range ps.Stages {
		if s.Status == StageRunning {
			return s.Name
		}
	}
	return ""
}

// Get returns the state for a stage name.
func (ps *PipelineState) Get(name string) (StageState, bool) {
	for _, s := range ps.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageState{}, false
}
