package audit

import "strings"

// Severity buckets for findings.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityOther    Severity = "other"
)

// NormalizeSeverity maps arbitrary agent-reported severities into the known
// buckets, defaulting to other.
func NormalizeSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityOther
	}
}

// Evidence points a finding at source code.
type Evidence struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Snippet   string `json:"snippet,omitempty"`
}

// Finding is one reported issue. The ID is opaque and regenerated per run;
// cross-run identity is derived from path and title, never from ID.
type Finding struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Remediation string   `json:"remediation,omitempty"`
	Evidence    Evidence `json:"evidence"`
}

// Profile selects how deep the agent passes go.
type Profile string

const (
	ProfileFast Profile = "fast"
	ProfileDeep Profile = "deep"
)
