package verify

import (
	"fmt"
	"strings"
)

// maxDetailLen caps how much scanner output a scan event retains.
const maxDetailLen = 8000

// ScanOutcome is the parsed result of one static scan invocation.
type ScanOutcome struct {
	Passed  bool
	Summary string
	Detail  string
}

// ParseScanOutput turns raw scanner output into a ScanOutcome. Exit code
// decides pass/fail. Failures keep the combined output tail so a reader can
// see the actual errors without rerunning the tool.
func ParseScanOutput(stdout, stderr string, exitCode int) ScanOutcome {
	passed := exitCode == 0
	summary := fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr))
	if passed {
		if line := firstLine(stdout, ""); line != "" {
			summary = line
		} else {
			summary = "passed (exit code 0)"
		}
		return ScanOutcome{Passed: true, Summary: summary}
	}

	if line := firstLine(stderr, stdout); line != "" {
		summary = line
	}

	combined := stdout
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr
	}
	// Keep the tail: error summaries usually come last.
	if len(combined) > maxDetailLen {
		combined = "…(truncated)\n" + combined[len(combined)-maxDetailLen:]
	}
	return ScanOutcome{Passed: false, Summary: summary, Detail: strings.TrimSpace(combined)}
}
