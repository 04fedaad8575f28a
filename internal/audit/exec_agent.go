package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/tolkaudit/tolkaudit/internal/prompt"
)

// CommandAgent runs agent passes by shelling out to a configured command.
// The pass context is written to stdin as JSON; the command prints a JSON
// finding list on stdout. The model id is exposed via TOLKAUDIT_MODEL so
// one command can serve both primary and fallback.
type CommandAgent struct {
	Command string

	// TemplateDir holds per-project instruction overrides; empty means
	// built-in templates only.
	TemplateDir string
}

var _ AgentInvoker = (*CommandAgent)(nil)

// passInput is the JSON document the agent command reads on stdin.
type passInput struct {
	Stage         string            `json:"stage"`
	RevisionID    string            `json:"revision_id"`
	Model         string            `json:"model"`
	Profile       Profile           `json:"profile"`
	Instructions  string            `json:"instructions"`
	VerifySummary string            `json:"verify_summary,omitempty"`
	Files         map[string]string `json:"files"`
	Prior         []Finding         `json:"prior,omitempty"`
}

// RunPass invokes the command once for one sub-stage.
func (a *CommandAgent) RunPass(ctx context.Context, stage string, pc PassContext, model string) ([]Finding, error) {
	if a.Command == "" {
		return nil, fmt.Errorf("no agent command configured")
	}

	instructions, err := a.renderInstructions(stage, pc)
	if err != nil {
		return nil, fmt.Errorf("render instructions for %s: %w", stage, err)
	}

	input, err := json.Marshal(passInput{
		Stage:         stage,
		RevisionID:    pc.RevisionID,
		Model:         model,
		Profile:       pc.Profile,
		Instructions:  instructions,
		VerifySummary: pc.VerifySummary,
		Files:         pc.Files,
		Prior:         pc.Prior,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal pass input: %w", err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(cmd.Environ(),
		"TOLKAUDIT_STAGE="+stage,
		"TOLKAUDIT_MODEL="+model,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("agent command: %w (stderr: %s)", err, firstNonEmptyLine(stderr.String()))
	}

	var findings []Finding
	if err := json.Unmarshal(stdout.Bytes(), &findings); err != nil {
		return nil, fmt.Errorf("parse agent output: %w", err)
	}
	return findings, nil
}

func (a *CommandAgent) renderInstructions(stage string, pc PassContext) (string, error) {
	tmpl, err := prompt.ForStage(stage, a.TemplateDir)
	if err != nil {
		return "", err
	}
	vars := prompt.Vars{
		"revision_id":    pc.RevisionID,
		"profile":        string(pc.Profile),
		"verify_summary": pc.VerifySummary,
		"prior_count":    "",
	}
	if len(pc.Prior) > 0 {
		vars["prior_count"] = strconv.Itoa(len(pc.Prior))
	}
	return prompt.Render(tmpl, vars)
}

func firstNonEmptyLine(s string) string {
	for _, line := range bytes.Split([]byte(s), []byte("\n")) {
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			return string(trimmed)
		}
	}
	return ""
}
