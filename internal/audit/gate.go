package audit

import (
	"fmt"
	"strings"
)

// GateResult is the structured outcome of the quality gate over a
// synthesized finding set.
type GateResult struct {
	Passed   bool     `json:"passed"`
	Problems []string `json:"problems,omitempty"`
}

// Summary renders the gate problems as one line.
func (g *GateResult) Summary() string {
	if g.Passed {
		return "quality gate passed"
	}
	return fmt.Sprintf("quality gate failed: %s", strings.Join(g.Problems, "; "))
}

// RunQualityGate checks structural quality of a synthesized finding set.
// Findings must carry a title, a summary, a known severity, and evidence
// that points at a real line range. Duplicate titles on the same file are
// rejected — synthesis is expected to have merged them.
func RunQualityGate(findings []Finding) *GateResult {
	g := &GateResult{Passed: true}
	seen := make(map[string]bool)

	for i, f := range findings {
		where := fmt.Sprintf("finding %d", i+1)
		if f.Title != "" {
			where = fmt.Sprintf("finding %q", f.Title)
		}

		if strings.TrimSpace(f.Title) == "" {
			g.fail("%s: empty title", where)
		}
		if strings.TrimSpace(f.Summary) == "" {
			g.fail("%s: empty summary", where)
		}
		if NormalizeSeverity(string(f.Severity)) != f.Severity {
			g.fail("%s: unknown severity %q", where, f.Severity)
		}
		if f.Evidence.Path == "" {
			g.fail("%s: evidence has no file path", where)
		}
		if f.Evidence.StartLine <= 0 || f.Evidence.EndLine < f.Evidence.StartLine {
			g.fail("%s: bad evidence line range %d-%d", where, f.Evidence.StartLine, f.Evidence.EndLine)
		}

		key := f.Evidence.Path + "\x00" + strings.ToLower(strings.TrimSpace(f.Title))
		if seen[key] {
			g.fail("%s: duplicate of another finding on %s", where, f.Evidence.Path)
		}
		seen[key] = true
	}
	return g
}

func (g *GateResult) fail(format string, args ...interface{}) {
	g.Passed = false
	g.Problems = append(g.Problems, fmt.Sprintf(format, args...))
}
