package verify

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/tolkaudit/tolkaudit/internal/events"
)

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// defaultStepTimeout applies to steps and scans without their own budget.
const defaultStepTimeout = 2 * time.Minute

// Runner executes a verification plan and publishes one event per phase and
// step transition on the verify queue.
type Runner struct {
	cmd      CommandRunner
	bus      *events.Bus
	progress io.Writer // live progress output; nil = silent
}

// NewRunner creates a verification Runner.
func NewRunner(cmd CommandRunner, bus *events.Bus) *Runner {
	return &Runner{cmd: cmd, bus: bus}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (r *Runner) SetProgress(w io.Writer) {
	r.progress = w
}

func (r *Runner) logf(format string, args ...interface{}) {
	if r.progress != nil {
		fmt.Fprintf(r.progress, "  → "+format+"\n", args...)
	}
}

// RunOpts configures one verification run.
type RunOpts struct {
	ProjectID string
	JobID     string
	Dir       string // directory the plan's commands run in
	Plan      Plan
}

// Result is the terminal verification outcome.
type Result struct {
	Passed   bool      `json:"passed"`
	Reason   string    `json:"reason"`
	Progress *Progress `json:"progress"`
}

// Run executes the plan: static scans first, then sandbox steps in order.
// A non-optional step failing or timing out fails the sandbox phase;
// optional steps never do. The returned error covers infrastructure
// problems only — a failing plan is a Result with Passed=false.
func (r *Runner) Run(ctx context.Context, opts RunOpts) (*Result, error) {
	state := NewProgress(opts.Plan)

	publish := func(name string, payload interface{}) error {
		e, err := r.bus.Publish(ctx, opts.ProjectID, events.QueueVerify, opts.JobID, name, payload)
		if err != nil {
			return err
		}
		state.Apply(*e)
		return nil
	}
	phase := func(ph Phase, reason string) error {
		return publish(EventProgress, progressPayload{Phase: ph, Reason: reason})
	}

	if err := phase(PhaseIdle, ""); err != nil {
		return nil, err
	}
	if err := phase(PhasePlanReady, ""); err != nil {
		return nil, err
	}

	// Static scans. All are required.
	for _, scan := range opts.Plan.Scans {
		r.logf("scan %q", scan.Name)
		outcome := r.runScan(ctx, opts.Dir, scan)
		if err := publish(EventSecurityScan, scanPayload{
			Name: scan.Name, Passed: outcome.Passed, Summary: outcome.Summary, Detail: outcome.Detail,
		}); err != nil {
			return nil, err
		}
		if !outcome.Passed {
			reason := fmt.Sprintf("security scan %q failed: %s", scan.Name, outcome.Summary)
			if err := phase(PhaseFailed, reason); err != nil {
				return nil, err
			}
			return &Result{Passed: false, Reason: reason, Progress: state}, nil
		}
	}

	// Sandbox phase.
	if len(opts.Plan.Steps) == 0 {
		if err := phase(PhaseSandboxSkipped, "plan has no sandbox steps"); err != nil {
			return nil, err
		}
		if err := phase(PhaseCompleted, "all scans passed; sandbox skipped"); err != nil {
			return nil, err
		}
		return &Result{Passed: true, Reason: "all scans passed; sandbox skipped", Progress: state}, nil
	}

	if err := phase(PhaseSandboxRunning, ""); err != nil {
		return nil, err
	}

	sandboxOK := true
	var failReason string
	for _, step := range opts.Plan.Steps {
		if err := publish(EventSandboxStep, stepPayload{
			ID: step.ID, Action: step.Action, Status: StepRunning, Optional: step.Optional,
		}); err != nil {
			return nil, err
		}

		r.logf("step %q: %s", step.ID, step.Action)
		status, durationMs := r.runStep(ctx, opts.Dir, step)

		if err := publish(EventSandboxStep, stepPayload{
			ID: step.ID, Action: step.Action, Status: status, Optional: step.Optional, DurationMs: durationMs,
		}); err != nil {
			return nil, err
		}

		if (status == StepFailed || status == StepTimeout) && !step.Optional {
			sandboxOK = false
			failReason = fmt.Sprintf("required step %q %s (%s)", step.ID, status, step.Action)
			// Remaining steps still run; their results are informational.
		}
	}

	if sandboxOK {
		if err := phase(PhaseSandboxCompleted, ""); err != nil {
			return nil, err
		}
		reason := "all scans and required sandbox steps passed"
		if err := phase(PhaseCompleted, reason); err != nil {
			return nil, err
		}
		return &Result{Passed: true, Reason: reason, Progress: state}, nil
	}

	if err := phase(PhaseSandboxFailed, failReason); err != nil {
		return nil, err
	}
	if err := phase(PhaseFailed, failReason); err != nil {
		return nil, err
	}
	return &Result{Passed: false, Reason: failReason, Progress: state}, nil
}

// runScan executes one static scan and summarizes its output.
func (r *Runner) runScan(ctx context.Context, dir string, scan Scan) ScanOutcome {
	timeout := scan.Timeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := r.cmd.Run(cctx, dir, scan.Command)
	if err != nil {
		return ScanOutcome{Passed: false, Summary: fmt.Sprintf("exec error: %v", err)}
	}
	return ParseScanOutput(stdout, stderr, exitCode)
}

// runStep executes one sandbox step under its timeout budget. A deadline
// overrun maps to StepTimeout, not StepFailed — timeouts are potentially
// retryable, failures are not.
func (r *Runner) runStep(ctx context.Context, dir string, step Step) (StepStatus, int64) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, _, exitCode, err := r.cmd.Run(cctx, dir, step.Command)
	durationMs := time.Since(start).Milliseconds()

	if cctx.Err() == context.DeadlineExceeded {
		return StepTimeout, durationMs
	}
	if err != nil || exitCode != 0 {
		return StepFailed, durationMs
	}
	return StepCompleted, durationMs
}

// firstLine returns the first non-empty line from a, falling back to b.
func firstLine(a, b string) string {
	for _, s := range []string{a, b} {
		for _, line := range strings.Split(s, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				return line
			}
		}
	}
	return ""
}
