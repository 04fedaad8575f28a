package audit

import "context"

// PassContext is everything an agent pass sees: the revision under audit,
// its files, the verification summary, and the prior pass's findings.
type PassContext struct {
	RevisionID    string
	Files         map[string]string // path -> content
	VerifySummary string
	Profile       Profile
	Prior         []Finding
}

// AgentInvoker is the black-box boundary to the AI model. One call per
// sub-stage; the engine handles fallback-model substitution and retries.
type AgentInvoker interface {
	RunPass(ctx context.Context, stage string, pc PassContext, model string) ([]Finding, error)
}
