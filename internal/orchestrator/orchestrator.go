package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tolkaudit/tolkaudit/internal/audit"
	"github.com/tolkaudit/tolkaudit/internal/events"
	"github.com/tolkaudit/tolkaudit/internal/revision"
	"github.com/tolkaudit/tolkaudit/internal/verify"
)

// Sentinel errors surfaced synchronously from Start/Cancel.
var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunActive   = errors.New("an audit run is already active for this project")
)

// EventRunStatus is the run-queue event name for coarse status transitions.
const EventRunStatus = "status"

type runStatusPayload struct {
	Status string `json:"status"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// LifecycleHook is invoked after a run completes, with the previous
// completed run for the same project (nil if none). Best effort: errors are
// the hook's problem.
type LifecycleHook func(ctx context.Context, completed *Run, previous *Run)

// Orchestrator composes verification and the agent stages into one audit
// run, owns the run state machine, and enforces the one-active-run-per-
// project policy.
type Orchestrator struct {
	revisions *revision.Store
	runs      RunStore
	verifier  *verify.Runner
	auditor   *audit.Engine
	bus       *events.Bus
	plan      verify.Plan
	lifecycle LifecycleHook
	progress  io.Writer

	mu     sync.Mutex
	active map[string]string // project id -> active run id

	wg sync.WaitGroup
}

// New creates an Orchestrator. plan is the default verification plan applied
// when a start request doesn't carry its own.
func New(
	revisions *revision.Store,
	runs RunStore,
	verifier *verify.Runner,
	auditor *audit.Engine,
	bus *events.Bus,
	plan verify.Plan,
) *Orchestrator {
	return &Orchestrator{
		revisions: revisions,
		runs:      runs,
		verifier:  verifier,
		auditor:   auditor,
		bus:       bus,
		plan:      plan,
		active:    make(map[string]string),
	}
}

// SetLifecycleHook installs the post-completion finding-lifecycle job.
func (o *Orchestrator) SetLifecycleHook(h LifecycleHook) {
	o.lifecycle = h
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, "→ "+format+"\n", args...)
	}
}

// Wait blocks until all in-flight pipeline tasks finish. Shutdown and test
// hook; callers in the request path never wait.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// StartOpts configures a run launch.
type StartOpts struct {
	WorkingCopyID string
	PrimaryModel  string
	FallbackModel string
	Profile       audit.Profile
	Plan          *verify.Plan // nil uses the orchestrator default
}

// StartResult is returned synchronously; all further progress is observed
// through the event bus or by polling the run.
type StartResult struct {
	RunID      string `json:"run_id"`
	RevisionID string `json:"revision_id"`
}

// Start promotes the working copy to a revision, creates the run in queued,
// and hands the pipeline to an asynchronous task. Fails with ErrRunActive
// (or revision.ErrLocked) while the project already has a queued or running
// audit.
func (o *Orchestrator) Start(ctx context.Context, opts StartOpts) (*StartResult, error) {
	wc, err := o.revisions.GetWorkingCopy(opts.WorkingCopyID)
	if err != nil {
		return nil, err
	}
	if opts.Profile == "" {
		opts.Profile = audit.ProfileFast
	}

	o.mu.Lock()
	if runID, busy := o.active[wc.ProjectID]; busy {
		o.mu.Unlock()
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunActive)
	}
	o.active[wc.ProjectID] = "pending"
	o.mu.Unlock()

	release := func() {
		o.mu.Lock()
		delete(o.active, wc.ProjectID)
		o.mu.Unlock()
	}

	if err := o.revisions.LockProject(wc.ProjectID); err != nil {
		release()
		return nil, err
	}

	rev, err := o.revisions.PromoteToRevision(wc.ID, true)
	if err != nil {
		o.revisions.UnlockProject(wc.ProjectID)
		release()
		return nil, fmt.Errorf("promote working copy: %w", err)
	}

	run := &Run{
		ID:            uuid.NewString(),
		ProjectID:     wc.ProjectID,
		RevisionID:    rev.ID,
		Status:        StatusQueued,
		Profile:       opts.Profile,
		PrimaryModel:  opts.PrimaryModel,
		FallbackModel: opts.FallbackModel,
		EngineVersion: EngineVersion,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		o.revisions.UnlockProject(wc.ProjectID)
		release()
		return nil, fmt.Errorf("create run: %w", err)
	}

	o.mu.Lock()
	o.active[wc.ProjectID] = run.ID
	o.mu.Unlock()

	o.publishStatus(ctx, run, StatusQueued, "", "")

	plan := o.plan
	if opts.Plan != nil {
		plan = *opts.Plan
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.revisions.UnlockProject(wc.ProjectID)
		defer release()
		// The pipeline outlives the launching request.
		o.execute(context.Background(), run.ID, plan)
	}()

	return &StartResult{RunID: run.ID, RevisionID: rev.ID}, nil
}

// Cancel marks a run cancelled and stops further stages from being
// enqueued. In-flight external calls are abandoned, not killed: their late
// results are discarded by the status checks in execute.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	run, err := o.runs.Update(ctx, runID, func(r *Run) error {
		if r.Terminal() {
			return fmt.Errorf("run %s already %s: %w", r.ID, r.Status, ErrBadTransition)
		}
		if err := checkTransition(r.Status, StatusCancelled); err != nil {
			return err
		}
		r.Status = StatusCancelled
		now := time.Now().UTC()
		r.FinishedAt = &now
		r.FailureReason = "cancelled by user"
		return nil
	})
	if err != nil {
		return err
	}
	o.publishStatus(ctx, run, StatusCancelled, "", "cancelled by user")
	return nil
}

// Get returns a run by id.
func (o *Orchestrator) Get(ctx context.Context, runID string) (*Run, error) {
	return o.runs.Get(ctx, runID)
}

// ListByProject returns a project's runs, oldest first.
func (o *Orchestrator) ListByProject(ctx context.Context, projectID string) ([]Run, error) {
	return o.runs.ListByProject(ctx, projectID)
}

// PreviousCompleted returns the most recent completed run for the project
// before the given run, or nil.
func (o *Orchestrator) PreviousCompleted(ctx context.Context, run *Run) (*Run, error) {
	all, err := o.runs.ListByProject(ctx, run.ProjectID)
	if err != nil {
		return nil, err
	}
	var prev *Run
	for i := range all {
		r := all[i]
		if r.ID == run.ID || r.Status != StatusCompleted {
			continue
		}
		if r.CreatedAt.Before(run.CreatedAt) && (prev == nil || r.CreatedAt.After(prev.CreatedAt)) {
			prev = &r
		}
	}
	return prev, nil
}

// execute drives one run through verification and the agent stages. Stage
// failures never escape as errors: they terminate the run as failed state
// plus a run event. Infrastructure errors do the same.
func (o *Orchestrator) execute(ctx context.Context, runID string, plan verify.Plan) {
	run, err := o.runs.Update(ctx, runID, func(r *Run) error {
		if r.Status == StatusCancelled {
			return context.Canceled
		}
		if err := checkTransition(r.Status, StatusRunning); err != nil {
			return err
		}
		r.Status = StatusRunning
		now := time.Now().UTC()
		r.StartedAt = &now
		return nil
	})
	if err != nil {
		return // cancelled before starting, or already terminal
	}
	o.publishStatus(ctx, run, StatusRunning, "", "")
	o.logf("run %s: started on revision %s", run.ID, run.RevisionID)

	stage := func(name string, status audit.StageStatus, detail string) {
		o.publishStage(ctx, run, name, status, detail)
	}

	// Plan assembly is synchronous and cheap; it bounds the verify stage.
	stage(audit.StageVerifyPlan, audit.StageRunning, "")
	files, err := o.revisions.RevisionFiles(run.RevisionID)
	if err != nil {
		stage(audit.StageVerifyPlan, audit.StageFailed, err.Error())
		o.finalizeFailed(ctx, runID, audit.StageVerifyPlan, err.Error())
		return
	}
	dir, err := materialize(files)
	if err != nil {
		stage(audit.StageVerifyPlan, audit.StageFailed, err.Error())
		o.finalizeFailed(ctx, runID, audit.StageVerifyPlan, err.Error())
		return
	}
	defer os.RemoveAll(dir)
	stage(audit.StageVerifyPlan, audit.StageCompleted,
		fmt.Sprintf("%d scans, %d sandbox steps", len(plan.Scans), len(plan.Steps)))

	if o.abandoned(ctx, runID) {
		return
	}

	// Verification. Fine-grained progress goes out on the verify queue;
	// the coarse scan/sandbox stage statuses mirror it on the audit queue.
	stage(audit.StageSecurityScans, audit.StageRunning, "")
	vres, err := o.verifier.Run(ctx, verify.RunOpts{
		ProjectID: run.ProjectID,
		JobID:     run.ID,
		Dir:       dir,
		Plan:      plan,
	})
	if err != nil {
		stage(audit.StageSecurityScans, audit.StageFailed, err.Error())
		o.finalizeFailed(ctx, runID, audit.StageSecurityScans, err.Error())
		return
	}
	o.mirrorVerifyStages(ctx, run, plan, vres)

	if o.abandoned(ctx, runID) {
		return
	}

	if !vres.Passed {
		// Short-circuit: the agent stages never run, and are recorded as
		// skipped so observers can tell shortcut from crash.
		for _, name := range []string{
			audit.StageAgentDiscovery, audit.StageAgentValidation,
			audit.StageAgentSynthesis, audit.StageQualityGate,
		} {
			stage(name, audit.StageSkipped, "verification failed")
		}
		failedStage := audit.StageSecurityScans
		if vres.Progress != nil && len(plan.Steps) > 0 && !scansFailed(vres.Progress) {
			failedStage = audit.StageSandboxChecks
		}
		o.logf("run %s: verification failed: %s", run.ID, vres.Reason)
		o.finalizeFailed(ctx, runID, failedStage, vres.Reason)
		return
	}

	// Agent stages.
	ares, err := o.auditor.Run(ctx, audit.RunOpts{
		ProjectID: run.ProjectID,
		JobID:     run.ID,
		Context: audit.PassContext{
			RevisionID:    run.RevisionID,
			Files:         files,
			VerifySummary: vres.Reason,
			Profile:       run.Profile,
		},
		PrimaryModel:  run.PrimaryModel,
		FallbackModel: run.FallbackModel,
	})
	if err != nil {
		o.finalizeFailed(ctx, runID, audit.StageAgentDiscovery, err.Error())
		return
	}

	if o.abandoned(ctx, runID) {
		return
	}

	if ares.Outcome != "success" {
		// All-or-nothing: partial findings from synthesis are discarded.
		o.logf("run %s: %s failed: %s", run.ID, ares.FailedStage, ares.Reason)
		o.finalizeFailed(ctx, runID, ares.FailedStage, ares.Reason)
		return
	}

	final, err := o.runs.Update(ctx, runID, func(r *Run) error {
		if r.Status == StatusCancelled {
			return context.Canceled
		}
		if err := checkTransition(r.Status, StatusCompleted); err != nil {
			return err
		}
		r.Status = StatusCompleted
		r.Findings = ares.Findings
		now := time.Now().UTC()
		r.FinishedAt = &now
		return nil
	})
	if err != nil {
		return // cancelled while the last stage was in flight: late result dropped
	}
	o.publishStatus(ctx, final, StatusCompleted, "", fmt.Sprintf("%d findings", len(final.Findings)))
	o.logf("run %s: completed with %d findings", run.ID, len(final.Findings))

	if o.lifecycle != nil {
		prev, err := o.PreviousCompleted(ctx, final)
		if err == nil {
			o.lifecycle(ctx, final, prev)
		}
	}
}

// mirrorVerifyStages maps the verify result onto the coarse scan and
// sandbox pipeline stages.
func (o *Orchestrator) mirrorVerifyStages(ctx context.Context, run *Run, plan verify.Plan, vres *verify.Result) {
	scanStatus := audit.StageCompleted
	scanDetail := fmt.Sprintf("%d scans passed", len(plan.Scans))
	if len(plan.Scans) == 0 {
		scanStatus = audit.StageSkipped
		scanDetail = "no scans in plan"
	}
	sandboxStatus := audit.StageCompleted
	sandboxDetail := ""
	if len(plan.Steps) == 0 {
		sandboxStatus = audit.StageSkipped
		sandboxDetail = "no sandbox steps in plan"
	}

	if !vres.Passed && vres.Progress != nil {
		if scansFailed(vres.Progress) {
			scanStatus = audit.StageFailed
			scanDetail = vres.Reason
			sandboxStatus = audit.StageSkipped
			sandboxDetail = "scans failed"
		} else {
			sandboxStatus = audit.StageFailed
			sandboxDetail = vres.Reason
		}
	}

	o.publishStage(ctx, run, audit.StageSecurityScans, scanStatus, scanDetail)
	o.publishStage(ctx, run, audit.StageSandboxChecks, sandboxStatus, sandboxDetail)
}

func scansFailed(p *verify.Progress) bool {
	for _, s := range p.Scans {
		if !s.Passed {
			return true
		}
	}
	return false
}

// abandoned reports whether the run was cancelled out from under the
// pipeline task. A cancelled run's remaining stage results are no-ops.
func (o *Orchestrator) abandoned(ctx context.Context, runID string) bool {
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return true
	}
	return run.Status == StatusCancelled
}

// finalizeFailed transitions the run to failed, recording the triggering
// stage and reason. A concurrent cancellation wins: the failure is dropped.
func (o *Orchestrator) finalizeFailed(ctx context.Context, runID, failedStage, reason string) {
	run, err := o.runs.Update(ctx, runID, func(r *Run) error {
		if r.Status == StatusCancelled {
			return context.Canceled
		}
		if err := checkTransition(r.Status, StatusFailed); err != nil {
			return err
		}
		r.Status = StatusFailed
		r.FailedStage = failedStage
		r.FailureReason = reason
		r.Findings = nil
		now := time.Now().UTC()
		r.FinishedAt = &now
		return nil
	})
	if err != nil {
		return
	}
	o.publishStatus(ctx, run, StatusFailed, failedStage, reason)
}

func (o *Orchestrator) publishStatus(ctx context.Context, run *Run, status, stage, reason string) {
	_, _ = o.bus.Publish(ctx, run.ProjectID, events.QueueRun, run.ID, EventRunStatus,
		runStatusPayload{Status: status, Stage: stage, Reason: reason})
}

func (o *Orchestrator) publishStage(ctx context.Context, run *Run, stage string, status audit.StageStatus, detail string) {
	_, _ = o.bus.Publish(ctx, run.ProjectID, events.QueueAudit, run.ID, audit.EventStage,
		map[string]interface{}{"stage": stage, "status": status, "detail": detail})
}

// materialize writes a revision's files into a scratch directory for the
// sandbox commands to run against.
func materialize(files map[string]string) (string, error) {
	dir, err := os.MkdirTemp("", "tolkaudit-run-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	for p, content := range files {
		if err := revision.WriteAtomic(filepath.Join(dir, filepath.FromSlash(p)), []byte(content)); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("materialize %s: %w", p, err)
		}
	}
	return dir, nil
}
