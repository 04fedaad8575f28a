package verify

import "time"

// Scan is one static, deterministic check run before the sandbox phase.
// Scans are always required; a failing scan fails verification.
type Scan struct {
	Name    string
	Command string
	Timeout time.Duration
}

// Step is one sandboxed execution step. Optional steps may fail or time out
// without failing the sandbox phase.
type Step struct {
	ID       string
	Action   string // human action label, e.g. "compile contracts"
	Command  string
	Timeout  time.Duration
	Optional bool
}

// Plan is the full verification plan for one run: static scans followed by
// an ordered list of sandbox steps. A plan with zero steps skips the
// sandbox phase entirely.
type Plan struct {
	Scans []Scan
	Steps []Step
}
