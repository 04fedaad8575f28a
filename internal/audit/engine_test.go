package audit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tolkaudit/tolkaudit/internal/events"
)

// mockAgent scripts per-stage responses and records every call.
type mockAgent struct {
	calls     []agentCall
	responses map[string][]agentResponse // stage -> queued responses
}

type agentCall struct {
	Stage string
	Model string
	Prior int
}

type agentResponse struct {
	Findings []Finding
	Err      error
}

func (m *mockAgent) RunPass(_ context.Context, stage string, pc PassContext, model string) ([]Finding, error) {
	m.calls = append(m.calls, agentCall{Stage: stage, Model: model, Prior: len(pc.Prior)})
	queue := m.responses[stage]
	if len(queue) == 0 {
		return nil, nil
	}
	r := queue[0]
	m.responses[stage] = queue[1:]
	return r.Findings, r.Err
}

func validFinding(title string) Finding {
	return Finding{
		Severity: SeverityHigh,
		Title:    title,
		Summary:  "details",
		Evidence: Evidence{Path: "contracts/wallet.tolk", StartLine: 3, EndLine: 9},
	}
}

func invalidFinding() Finding {
	return Finding{Title: "broken", Evidence: Evidence{Path: "a.tolk", StartLine: 0, EndLine: 0}}
}

func newTestEngine(agent AgentInvoker) (*Engine, *events.Bus) {
	bus := events.NewBus(events.NewMemoryStore())
	return NewEngine(agent, bus), bus
}

func engineOpts() RunOpts {
	return RunOpts{
		ProjectID:     "proj-1",
		JobID:         "job-1",
		Context:       PassContext{RevisionID: "rev-1", Profile: ProfileFast},
		PrimaryModel:  "model-a",
		FallbackModel: "model-b",
	}
}

func TestEngine_Run_HappyPath(t *testing.T) {
	agent := &mockAgent{responses: map[string][]agentResponse{
		StageAgentDiscovery:  {{Findings: []Finding{validFinding("one"), validFinding("two")}}},
		StageAgentValidation: {{Findings: []Finding{validFinding("one")}}},
		StageAgentSynthesis:  {{Findings: []Finding{validFinding("one")}}},
	}}
	e, _ := newTestEngine(agent)

	res, err := e.Run(context.Background(), engineOpts())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Outcome != "success" {
		t.Fatalf("Outcome = %q (%s: %s)", res.Outcome, res.FailedStage, res.Reason)
	}
	if len(res.Findings) != 1 {
		t.Errorf("got %d findings, want 1", len(res.Findings))
	}
	if res.Findings[0].ID == "" {
		t.Error("synthesized finding was not assigned an id")
	}
	if res.Retried {
		t.Error("Retried = true on a clean run")
	}

	// Validation saw discovery's output, synthesis saw validation's.
	if agent.calls[1].Stage != StageAgentValidation || agent.calls[1].Prior != 2 {
		t.Errorf("validation call = %+v, want 2 prior findings", agent.calls[1])
	}
	if agent.calls[2].Stage != StageAgentSynthesis || agent.calls[2].Prior != 1 {
		t.Errorf("synthesis call = %+v, want 1 prior finding", agent.calls[2])
	}
}

func TestEngine_Run_DiscoveryErrorFailsRun(t *testing.T) {
	agent := &mockAgent{responses: map[string][]agentResponse{
		StageAgentDiscovery: {
			{Err: errors.New("model unavailable")},
			{Err: errors.New("fallback also down")}, // fallback attempt
		},
	}}
	e, _ := newTestEngine(agent)

	res, err := e.Run(context.Background(), engineOpts())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Outcome != "fail" || res.FailedStage != StageAgentDiscovery {
		t.Errorf("Outcome = %q at %q, want fail at discovery", res.Outcome, res.FailedStage)
	}
	if len(res.Findings) != 0 {
		t.Error("failed run carries findings; publication must be all-or-nothing")
	}
}

func TestEngine_Run_FallbackModelOnPrimaryError(t *testing.T) {
	agent := &mockAgent{responses: map[string][]agentResponse{
		StageAgentDiscovery: {
			{Err: errors.New("primary down")},
			{Findings: []Finding{validFinding("one")}},
		},
		StageAgentValidation: {{Findings: []Finding{validFinding("one")}}},
		StageAgentSynthesis:  {{Findings: []Finding{validFinding("one")}}},
	}}
	e, _ := newTestEngine(agent)

	res, err := e.Run(context.Background(), engineOpts())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Outcome != "success" {
		t.Fatalf("Outcome = %q: %s", res.Outcome, res.Reason)
	}
	if agent.calls[0].Model != "model-a" || agent.calls[1].Model != "model-b" {
		t.Errorf("models = %q then %q, want primary then fallback", agent.calls[0].Model, agent.calls[1].Model)
	}
}

func TestEngine_Run_GateFailureRetriesSynthesisOnce(t *testing.T) {
	agent := &mockAgent{responses: map[string][]agentResponse{
		StageAgentDiscovery:  {{Findings: []Finding{validFinding("one")}}},
		StageAgentValidation: {{Findings: []Finding{validFinding("one")}}},
		StageAgentSynthesis: {
			{Findings: []Finding{invalidFinding()}},
			{Findings: []Finding{validFinding("one")}},
		},
	}}
	e, _ := newTestEngine(agent)

	res, err := e.Run(context.Background(), engineOpts())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Outcome != "success" {
		t.Fatalf("Outcome = %q: %s", res.Outcome, res.Reason)
	}
	if !res.Retried {
		t.Error("Retried = false after a gate-triggered retry")
	}

	// The retry ran synthesis on the fallback model.
	var synthModels []string
	for _, c := range agent.calls {
		if c.Stage == StageAgentSynthesis {
			synthModels = append(synthModels, c.Model)
		}
	}
	if len(synthModels) != 2 || synthModels[0] != "model-a" || synthModels[1] != "model-b" {
		t.Errorf("synthesis models = %v, want [model-a model-b]", synthModels)
	}
}

func TestEngine_Run_SingleRetryBound(t *testing.T) {
	agent := &mockAgent{responses: map[string][]agentResponse{
		StageAgentDiscovery:  {{Findings: []Finding{validFinding("one")}}},
		StageAgentValidation: {{Findings: []Finding{validFinding("one")}}},
		StageAgentSynthesis: {
			{Findings: []Finding{invalidFinding()}},
			{Findings: []Finding{invalidFinding()}},
			{Findings: []Finding{validFinding("never reached")}},
		},
	}}
	e, _ := newTestEngine(agent)

	res, err := e.Run(context.Background(), engineOpts())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Outcome != "fail" || res.FailedStage != StageQualityGate {
		t.Errorf("Outcome = %q at %q, want fail at quality-gate", res.Outcome, res.FailedStage)
	}

	synthCalls := 0
	for _, c := range agent.calls {
		if c.Stage == StageAgentSynthesis {
			synthCalls++
		}
	}
	if synthCalls != 2 {
		t.Errorf("synthesis ran %d times, want exactly 2 (one retry)", synthCalls)
	}
	if len(res.Findings) != 0 {
		t.Error("failed run carries findings")
	}
}

func TestEngine_Run_SeverityNormalized(t *testing.T) {
	odd := validFinding("one")
	odd.Severity = "HIGH "
	agent := &mockAgent{responses: map[string][]agentResponse{
		StageAgentDiscovery:  {{Findings: []Finding{validFinding("one")}}},
		StageAgentValidation: {{Findings: []Finding{validFinding("one")}}},
		StageAgentSynthesis:  {{Findings: []Finding{odd}}},
	}}
	e, _ := newTestEngine(agent)

	res, err := e.Run(context.Background(), engineOpts())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Outcome != "success" {
		t.Fatalf("Outcome = %q: %s", res.Outcome, res.Reason)
	}
	if res.Findings[0].Severity != SeverityHigh {
		t.Errorf("Severity = %q, want normalized high", res.Findings[0].Severity)
	}
}

func TestEngine_Run_PublishesStageEvents(t *testing.T) {
	agent := &mockAgent{responses: map[string][]agentResponse{
		StageAgentDiscovery:  {{Findings: []Finding{validFinding("one")}}},
		StageAgentValidation: {{Findings: []Finding{validFinding("one")}}},
		StageAgentSynthesis:  {{Findings: []Finding{validFinding("one")}}},
	}}
	e, bus := newTestEngine(agent)

	if _, err := e.Run(context.Background(), engineOpts()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	ch, cancel, err := bus.Subscribe(context.Background(), "job-1", "proj-1")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	cancel()

	state := NewPipelineState()
	for ev := range ch {
		state.Apply(ev)
	}
	for _, name := range []string{StageAgentDiscovery, StageAgentValidation, StageAgentSynthesis, StageQualityGate} {
		st, ok := state.Get(name)
		if !ok || st.Status != StageCompleted {
			t.Errorf("folded %s = %+v, want completed", name, st)
		}
	}
}

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"critical", SeverityCritical},
		{" High ", SeverityHigh},
		{"MEDIUM", SeverityMedium},
		{"low", SeverityLow},
		{"informational", SeverityOther},
		{"", SeverityOther},
	}
	for _, tt := range tests {
		if got := NormalizeSeverity(tt.in); got != tt.want {
			t.Errorf("NormalizeSeverity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGateSummaryMentionsProblemFinding(t *testing.T) {
	g := RunQualityGate([]Finding{invalidFinding()})
	if g.Passed {
		t.Fatal("gate passed an invalid finding")
	}
	if !strings.Contains(g.Summary(), "broken") {
		t.Errorf("Summary() = %q, want finding title", g.Summary())
	}
}
