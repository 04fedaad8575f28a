package audit

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tolkaudit/tolkaudit/internal/events"
)

// Engine executes the agent stage sequence: discovery → validation →
// synthesis → quality-gate. Each transition publishes one event on the
// audit queue.
type Engine struct {
	agent    AgentInvoker
	bus      *events.Bus
	progress io.Writer // live progress output; nil = silent
}

// NewEngine creates an audit stage engine.
func NewEngine(agent AgentInvoker, bus *events.Bus) *Engine {
	return &Engine{agent: agent, bus: bus}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Engine) SetProgress(w io.Writer) {
	e.progress = w
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// RunOpts configures one audit stage run.
type RunOpts struct {
	ProjectID     string
	JobID         string
	Context       PassContext
	PrimaryModel  string
	FallbackModel string
}

// Result captures the outcome of the agent stage sequence. On failure the
// finding list is always empty: publication is all-or-nothing.
type Result struct {
	Outcome     string    `json:"outcome"` // "success" or "fail"
	Findings    []Finding `json:"findings,omitempty"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Retried     bool      `json:"retried"` // synthesis was retried after a gate failure
}

// Run executes the agent sub-stages in order. A sub-stage error fails the
// run at that stage; a quality-gate failure triggers exactly one synthesis
// retry before failing. The returned error covers event-publishing
// infrastructure only.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*Result, error) {
	publish := func(stage string, status StageStatus, detail string) error {
		_, err := e.bus.Publish(ctx, opts.ProjectID, events.QueueAudit, opts.JobID, EventStage,
			stageEventPayload{Stage: stage, Status: status, Detail: detail})
		return err
	}

	fail := func(stage, reason string) (*Result, error) {
		if err := publish(stage, StageFailed, reason); err != nil {
			return nil, err
		}
		return &Result{Outcome: "fail", FailedStage: stage, Reason: reason}, nil
	}

	pc := opts.Context

	// Discovery.
	e.logf("stage %s (profile %s)", StageAgentDiscovery, pc.Profile)
	if err := publish(StageAgentDiscovery, StageRunning, ""); err != nil {
		return nil, err
	}
	discovered, aerr := e.invoke(ctx, StageAgentDiscovery, pc, opts)
	if aerr != nil {
		return fail(StageAgentDiscovery, aerr.Error())
	}
	if err := publish(StageAgentDiscovery, StageCompleted, fmt.Sprintf("%d candidate findings", len(discovered))); err != nil {
		return nil, err
	}

	// Validation.
	e.logf("stage %s", StageAgentValidation)
	if err := publish(StageAgentValidation, StageRunning, ""); err != nil {
		return nil, err
	}
	pc.Prior = discovered
	validated, aerr := e.invoke(ctx, StageAgentValidation, pc, opts)
	if aerr != nil {
		return fail(StageAgentValidation, aerr.Error())
	}
	if err := publish(StageAgentValidation, StageCompleted, fmt.Sprintf("%d validated findings", len(validated))); err != nil {
		return nil, err
	}

	// Synthesis + quality gate, with at most one retry of synthesis.
	retried := false
	synthDetail := ""
	for {
		e.logf("stage %s", StageAgentSynthesis)
		if err := publish(StageAgentSynthesis, StageRunning, synthDetail); err != nil {
			return nil, err
		}
		pc.Prior = validated
		synthModel := opts.PrimaryModel
		if retried && opts.FallbackModel != "" {
			// Retry policy: the second synthesis pass runs on the fallback
			// model when one is configured.
			synthModel = opts.FallbackModel
		}
		synthesized, aerr := e.invokeModel(ctx, StageAgentSynthesis, pc, synthModel, opts.FallbackModel)
		if aerr != nil {
			return fail(StageAgentSynthesis, aerr.Error())
		}
		for i := range synthesized {
			if synthesized[i].ID == "" {
				synthesized[i].ID = uuid.NewString()
			}
			synthesized[i].Severity = NormalizeSeverity(string(synthesized[i].Severity))
		}
		if err := publish(StageAgentSynthesis, StageCompleted, fmt.Sprintf("%d findings", len(synthesized))); err != nil {
			return nil, err
		}

		e.logf("stage %s", StageQualityGate)
		if err := publish(StageQualityGate, StageRunning, ""); err != nil {
			return nil, err
		}
		gate := RunQualityGate(synthesized)
		if gate.Passed {
			if err := publish(StageQualityGate, StageCompleted, gate.Summary()); err != nil {
				return nil, err
			}
			return &Result{Outcome: "success", Findings: synthesized, Retried: retried}, nil
		}

		if retried {
			// Single-retry bound reached.
			if err := publish(StageQualityGate, StageFailed, gate.Summary()); err != nil {
				return nil, err
			}
			return &Result{Outcome: "fail", FailedStage: StageQualityGate, Reason: gate.Summary(), Retried: true}, nil
		}

		retried = true
		synthDetail = "retry after quality gate failure"
		e.logf("quality gate failed, retrying synthesis once")
	}
}

// invoke runs an agent pass on the primary model, substituting the fallback
// model on primary failure.
func (e *Engine) invoke(ctx context.Context, stage string, pc PassContext, opts RunOpts) ([]Finding, error) {
	return e.invokeModel(ctx, stage, pc, opts.PrimaryModel, opts.FallbackModel)
}

func (e *Engine) invokeModel(ctx context.Context, stage string, pc PassContext, model, fallback string) ([]Finding, error) {
	findings, err := e.agent.RunPass(ctx, stage, pc, model)
	if err == nil {
		return findings, nil
	}
	if fallback == "" || fallback == model {
		return nil, fmt.Errorf("agent pass %s on %s: %w", stage, model, err)
	}
	e.logf("model %s failed for %s, falling back to %s", model, stage, fallback)
	findings, ferr := e.agent.RunPass(ctx, stage, pc, fallback)
	if ferr != nil {
		return nil, fmt.Errorf("agent pass %s failed on %s (%v) and fallback %s: %w", stage, model, err, fallback, ferr)
	}
	return findings, nil
}
