package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCommandAgent_RenderInstructions(t *testing.T) {
	a := &CommandAgent{Command: "agent"}
	pc := PassContext{
		RevisionID:    "rev-1",
		Profile:       ProfileDeep,
		VerifySummary: "all scans and required sandbox steps passed",
		Prior:         []Finding{{Title: "x"}, {Title: "y"}},
	}

	got, err := a.renderInstructions(StageAgentValidation, pc)
	if err != nil {
		t.Fatalf("renderInstructions() error: %v", err)
	}
	if !strings.Contains(got, "rev-1") {
		t.Error("rendered instructions missing revision id")
	}
	if !strings.Contains(got, "deep") {
		t.Error("rendered instructions missing profile")
	}
	if !strings.Contains(got, "Candidates under review: 2") {
		t.Errorf("prior count conditional not rendered:\n%s", got)
	}
}

func TestCommandAgent_RenderInstructions_NoPrior(t *testing.T) {
	a := &CommandAgent{Command: "agent"}
	got, err := a.renderInstructions(StageAgentDiscovery, PassContext{RevisionID: "rev-1", Profile: ProfileFast})
	if err != nil {
		t.Fatalf("renderInstructions() error: %v", err)
	}
	if strings.Contains(got, "Candidates under review") {
		t.Error("empty conditional block rendered")
	}
}

func TestCommandAgent_RenderInstructions_Override(t *testing.T) {
	dir := t.TempDir()
	override := "custom instructions for {{revision_id}}"
	if err := os.WriteFile(filepath.Join(dir, StageAgentDiscovery+".md"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	a := &CommandAgent{Command: "agent", TemplateDir: dir}
	got, err := a.renderInstructions(StageAgentDiscovery, PassContext{RevisionID: "rev-9", Profile: ProfileFast})
	if err != nil {
		t.Fatalf("renderInstructions() error: %v", err)
	}
	if got != "custom instructions for rev-9" {
		t.Errorf("override not used: %q", got)
	}
}

func TestCommandAgent_RenderInstructions_UnknownStage(t *testing.T) {
	a := &CommandAgent{Command: "agent"}
	if _, err := a.renderInstructions("quality-gate", PassContext{}); err == nil {
		t.Error("expected error for stage without a template")
	}
}
