package verify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tolkaudit/tolkaudit/internal/events"
)

// mockCmd returns configured results keyed by command string.
type mockCmd struct {
	calls   []string
	results map[string]mockResult
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	Sleep    time.Duration
}

func (m *mockCmd) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	m.calls = append(m.calls, command)
	r := m.results[command]
	if r.Sleep > 0 {
		select {
		case <-time.After(r.Sleep):
		case <-ctx.Done():
			return "", "", -1, ctx.Err()
		}
	}
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

func newTestRunner(mock *mockCmd) (*Runner, *events.Bus) {
	bus := events.NewBus(events.NewMemoryStore())
	return NewRunner(mock, bus), bus
}

func runOpts(plan Plan) RunOpts {
	return RunOpts{ProjectID: "proj-1", JobID: "job-1", Dir: "/tmp/x", Plan: plan}
}

func TestRunner_Run_AllPass(t *testing.T) {
	mock := &mockCmd{results: map[string]mockResult{
		"scan-cmd":  {Stdout: "clean", ExitCode: 0},
		"build-cmd": {ExitCode: 0},
	}}
	r, _ := newTestRunner(mock)

	res, err := r.Run(context.Background(), runOpts(Plan{
		Scans: []Scan{{Name: "secret-scan", Command: "scan-cmd"}},
		Steps: []Step{{ID: "build", Action: "compile", Command: "build-cmd"}},
	}))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Passed {
		t.Errorf("Passed = false, reason %q", res.Reason)
	}
	if res.Progress.Phase != PhaseCompleted {
		t.Errorf("Phase = %q, want completed", res.Progress.Phase)
	}
	step, _ := stepByID(res.Progress, "build")
	if step.Status != StepCompleted {
		t.Errorf("build status = %q, want completed", step.Status)
	}
}

func TestRunner_Run_ScanFailureShortCircuits(t *testing.T) {
	mock := &mockCmd{results: map[string]mockResult{
		"scan-cmd": {Stderr: "hardcoded key in contracts/wallet.tolk", ExitCode: 1},
	}}
	r, _ := newTestRunner(mock)

	res, err := r.Run(context.Background(), runOpts(Plan{
		Scans: []Scan{{Name: "secret-scan", Command: "scan-cmd"}},
		Steps: []Step{{ID: "build", Action: "compile", Command: "build-cmd"}},
	}))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Passed {
		t.Error("Passed = true, want scan failure")
	}
	if res.Progress.Phase != PhaseFailed {
		t.Errorf("Phase = %q, want failed", res.Progress.Phase)
	}
	if !strings.Contains(res.Reason, "secret-scan") {
		t.Errorf("Reason = %q, want scan name", res.Reason)
	}
	// The sandbox never ran.
	for _, c := range mock.calls {
		if c == "build-cmd" {
			t.Error("sandbox step ran despite scan failure")
		}
	}
}

func TestRunner_Run_OptionalStepFailureDoesNotFail(t *testing.T) {
	mock := &mockCmd{results: map[string]mockResult{
		"build-cmd": {ExitCode: 0},
		"bench-cmd": {Stderr: "bench broken", ExitCode: 2},
	}}
	r, _ := newTestRunner(mock)

	res, err := r.Run(context.Background(), runOpts(Plan{
		Steps: []Step{
			{ID: "build", Action: "compile", Command: "build-cmd"},
			{ID: "bench", Action: "benchmarks", Command: "bench-cmd", Optional: true},
		},
	}))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Passed {
		t.Errorf("Passed = false with only an optional failure: %q", res.Reason)
	}
	bench, _ := stepByID(res.Progress, "bench")
	if bench.Status != StepFailed {
		t.Errorf("bench status = %q, want failed (recorded but non-fatal)", bench.Status)
	}
	if res.Progress.Phase != PhaseCompleted {
		t.Errorf("Phase = %q, want completed", res.Progress.Phase)
	}
}

func TestRunner_Run_RequiredStepFailure(t *testing.T) {
	mock := &mockCmd{results: map[string]mockResult{
		"build-cmd": {Stderr: "syntax error", ExitCode: 1},
		"test-cmd":  {ExitCode: 0},
	}}
	r, _ := newTestRunner(mock)

	res, err := r.Run(context.Background(), runOpts(Plan{
		Steps: []Step{
			{ID: "build", Action: "compile", Command: "build-cmd"},
			{ID: "tests", Action: "run tests", Command: "test-cmd"},
		},
	}))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Passed {
		t.Error("Passed = true, want required step failure")
	}
	// Remaining steps still ran for their informational value.
	found := false
	for _, c := range mock.calls {
		if c == "test-cmd" {
			found = true
		}
	}
	if !found {
		t.Error("later step skipped after required failure; want it recorded anyway")
	}
	if res.Progress.Phase != PhaseFailed {
		t.Errorf("Phase = %q, want failed", res.Progress.Phase)
	}
}

func TestRunner_Run_TimeoutIsNotFailed(t *testing.T) {
	mock := &mockCmd{results: map[string]mockResult{
		"slow-cmd": {Sleep: 200 * time.Millisecond},
	}}
	r, _ := newTestRunner(mock)

	res, err := r.Run(context.Background(), runOpts(Plan{
		Steps: []Step{{ID: "slow", Action: "hangs", Command: "slow-cmd", Timeout: 20 * time.Millisecond}},
	}))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Passed {
		t.Error("Passed = true, want timeout failure")
	}
	step, _ := stepByID(res.Progress, "slow")
	if step.Status != StepTimeout {
		t.Errorf("status = %q, want timeout (distinct from failed)", step.Status)
	}
}

func TestRunner_Run_NoSandboxSteps(t *testing.T) {
	mock := &mockCmd{results: map[string]mockResult{
		"scan-cmd": {Stdout: "clean", ExitCode: 0},
	}}
	r, _ := newTestRunner(mock)

	res, err := r.Run(context.Background(), runOpts(Plan{
		Scans: []Scan{{Name: "secret-scan", Command: "scan-cmd"}},
	}))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Passed {
		t.Errorf("Passed = false: %q", res.Reason)
	}
	if res.Progress.Phase != PhaseCompleted {
		t.Errorf("Phase = %q, want completed", res.Progress.Phase)
	}
}

func TestRunner_Run_EventsFoldToSameState(t *testing.T) {
	mock := &mockCmd{results: map[string]mockResult{
		"scan-cmd":  {Stdout: "clean", ExitCode: 0},
		"build-cmd": {ExitCode: 0},
	}}
	r, bus := newTestRunner(mock)

	plan := Plan{
		Scans: []Scan{{Name: "secret-scan", Command: "scan-cmd"}},
		Steps: []Step{{ID: "build", Action: "compile", Command: "build-cmd"}},
	}
	res, err := r.Run(context.Background(), runOpts(plan))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// An observer folding the published events reconstructs the runner's
	// own terminal state.
	ch, cancel, err := bus.Subscribe(context.Background(), "job-1", "proj-1")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	cancel()

	folded := NewProgress(plan)
	for e := range ch {
		folded.Apply(e)
	}
	if folded.Phase != res.Progress.Phase {
		t.Errorf("folded phase = %q, runner phase = %q", folded.Phase, res.Progress.Phase)
	}
	got, _ := stepByID(folded, "build")
	want, _ := stepByID(res.Progress, "build")
	if got.Status != want.Status {
		t.Errorf("folded build = %q, runner build = %q", got.Status, want.Status)
	}
}
