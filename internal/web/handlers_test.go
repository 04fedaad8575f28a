package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tolkaudit/tolkaudit/internal/audit"
	"github.com/tolkaudit/tolkaudit/internal/compare"
	"github.com/tolkaudit/tolkaudit/internal/events"
	"github.com/tolkaudit/tolkaudit/internal/orchestrator"
	"github.com/tolkaudit/tolkaudit/internal/revision"
	"github.com/tolkaudit/tolkaudit/internal/verify"
)

type stubCmd struct{}

func (stubCmd) Run(context.Context, string, string) (string, string, int, error) {
	return "", "", 0, nil
}

type stubAgent struct{}

func (stubAgent) RunPass(_ context.Context, _ string, _ audit.PassContext, _ string) ([]audit.Finding, error) {
	return []audit.Finding{{
		Severity: audit.SeverityHigh,
		Title:    "missing sender check",
		Summary:  "anyone can trigger the transfer path",
		Evidence: audit.Evidence{Path: "contracts/wallet.tolk", StartLine: 4, EndLine: 9},
	}}, nil
}

type webFixture struct {
	ts        *httptest.Server
	orch      *orchestrator.Orchestrator
	revisions *revision.Store
}

func newWebFixture(t *testing.T) *webFixture {
	t.Helper()
	store := events.NewMemoryStore()
	bus := events.NewBus(store)
	revisions := revision.NewStore("")
	runs := orchestrator.NewMemoryRunStore()
	verifier := verify.NewRunner(stubCmd{}, bus)
	auditor := audit.NewEngine(stubAgent{}, bus)
	plan := verify.Plan{Scans: []verify.Scan{{Name: "secret-scan", Command: "scan"}}}

	orch := orchestrator.New(revisions, runs, verifier, auditor, bus, plan)
	srv := NewServer(orch, revisions, bus, store, 0)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return &webFixture{ts: ts, orch: orch, revisions: revisions}
}

// completeRun drives one pipeline run to completion and returns its id.
func (f *webFixture) completeRun(t *testing.T, projectID string) string {
	t.Helper()
	rev, err := f.revisions.Bootstrap(projectID, map[string]string{
		"contracts/wallet.tolk": "fun onInternalMessage() {}\n",
	})
	if err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}
	wc, err := f.revisions.CreateWorkingCopy(rev.ID)
	if err != nil {
		t.Fatalf("CreateWorkingCopy() error: %v", err)
	}
	result, err := f.orch.Start(context.Background(), orchestrator.StartOpts{
		WorkingCopyID: wc.ID,
		PrimaryModel:  "model-a",
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	f.orch.Wait()
	return result.RunID
}

func getJSON(t *testing.T, url string, status int, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != status {
		t.Fatalf("GET %s = %d, want %d", url, resp.StatusCode, status)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestHandleRun(t *testing.T) {
	f := newWebFixture(t)
	runID := f.completeRun(t, "proj-1")

	var run orchestrator.Run
	getJSON(t, f.ts.URL+"/api/runs/"+runID, http.StatusOK, &run)
	if run.Status != orchestrator.StatusCompleted {
		t.Errorf("Status = %q", run.Status)
	}
	if len(run.Findings) != 1 {
		t.Errorf("Findings = %d, want 1", len(run.Findings))
	}
}

func TestHandleRun_NotFound(t *testing.T) {
	f := newWebFixture(t)
	getJSON(t, f.ts.URL+"/api/runs/missing", http.StatusNotFound, nil)
}

func TestHandlePipeline(t *testing.T) {
	f := newWebFixture(t)
	runID := f.completeRun(t, "proj-1")

	var state audit.PipelineState
	getJSON(t, f.ts.URL+"/api/runs/"+runID+"/pipeline", http.StatusOK, &state)

	byName := make(map[string]audit.StageStatus)
	for _, s := range state.Stages {
		byName[s.Name] = s.Status
	}
	if byName[audit.StageQualityGate] != audit.StageCompleted {
		t.Errorf("quality-gate = %q, want completed", byName[audit.StageQualityGate])
	}
	if byName[audit.StageSandboxChecks] != audit.StageSkipped {
		t.Errorf("sandbox-checks = %q, want skipped (plan has no steps)", byName[audit.StageSandboxChecks])
	}
}

func TestHandleVerify(t *testing.T) {
	f := newWebFixture(t)
	runID := f.completeRun(t, "proj-1")

	var progress verify.Progress
	getJSON(t, f.ts.URL+"/api/runs/"+runID+"/verify", http.StatusOK, &progress)
	if progress.Phase != verify.PhaseCompleted {
		t.Errorf("Phase = %q, want completed", progress.Phase)
	}
	if len(progress.Scans) != 1 || !progress.Scans[0].Passed {
		t.Errorf("Scans = %+v", progress.Scans)
	}
}

func TestHandleEvents_ProjectScoping(t *testing.T) {
	f := newWebFixture(t)
	runID := f.completeRun(t, "proj-1")

	var list []events.Event
	getJSON(t, f.ts.URL+"/api/runs/"+runID+"/events?project=proj-1", http.StatusOK, &list)
	if len(list) == 0 {
		t.Error("no events returned for the run's own project")
	}

	getJSON(t, f.ts.URL+"/api/runs/"+runID+"/events?project=proj-2", http.StatusForbidden, nil)
}

func TestHandleProjectRuns(t *testing.T) {
	f := newWebFixture(t)
	f.completeRun(t, "proj-1")

	var runs []orchestrator.Run
	getJSON(t, f.ts.URL+"/api/projects/proj-1/runs", http.StatusOK, &runs)
	if len(runs) != 1 {
		t.Errorf("got %d runs, want 1", len(runs))
	}

	getJSON(t, f.ts.URL+"/api/projects/empty/runs", http.StatusOK, &runs)
	if len(runs) != 0 {
		t.Errorf("empty project returned %d runs", len(runs))
	}
}

func TestHandleCompare(t *testing.T) {
	f := newWebFixture(t)
	first := f.completeRun(t, "proj-1")
	second := f.completeRun(t, "proj-1")

	var report compare.Report
	url := fmt.Sprintf("%s/api/compare?from=%s&to=%s", f.ts.URL, first, second)
	getJSON(t, url, http.StatusOK, &report)
	if report.PersistingCount != 1 {
		t.Errorf("PersistingCount = %d, want 1 (same finding both runs)", report.PersistingCount)
	}
	if report.NewCount != 0 || report.ResolvedCount != 0 {
		t.Errorf("report = %+v", report)
	}

	// Self-comparison is a client error.
	getJSON(t, fmt.Sprintf("%s/api/compare?from=%s&to=%s", f.ts.URL, first, first), http.StatusBadRequest, nil)

	// Unknown run is not found.
	getJSON(t, fmt.Sprintf("%s/api/compare?from=%s&to=missing", f.ts.URL, first), http.StatusNotFound, nil)
}
