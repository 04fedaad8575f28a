package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Audit.Name = "wallet-audit"
	cfg.Audit.Defaults.PrimaryModel = "model-a"
	cfg.Audit.Defaults.Profile = "fast"
	return cfg
}

func hasError(errs []ValidationError, field, fragment string) bool {
	for _, e := range errs {
		if e.Field == field && strings.Contains(e.Message, fragment) {
			return true
		}
	}
	return false
}

func TestValidate_Valid(t *testing.T) {
	if errs := Validate(validConfig()); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Name = ""
	cfg.Audit.Defaults.PrimaryModel = ""

	errs := Validate(cfg)
	if !hasError(errs, "audit.name", "required") {
		t.Errorf("missing name not flagged: %v", errs)
	}
	if !hasError(errs, "audit.defaults.primary_model", "required") {
		t.Errorf("missing primary model not flagged: %v", errs)
	}
}

func TestValidate_UnknownProfile(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Defaults.Profile = "thorough"
	if errs := Validate(cfg); !hasError(errs, "audit.defaults.profile", "unknown profile") {
		t.Errorf("unknown profile not flagged: %v", errs)
	}
}

func TestValidate_NegativeRetention(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.RetentionDays = -1
	if errs := Validate(cfg); !hasError(errs, "audit.retention_days", "negative") {
		t.Errorf("negative retention not flagged: %v", errs)
	}
}

func TestValidate_DuplicateScanNames(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Verification.Scans = []ScanConfig{
		{Name: "secret-scan", Command: "a"},
		{Name: "secret-scan", Command: "b"},
	}
	if errs := Validate(cfg); !hasError(errs, "audit.verification.scans[1].name", "duplicate") {
		t.Errorf("duplicate scan name not flagged: %v", errs)
	}
}

func TestValidate_DuplicateStepIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Verification.Sandbox = []StepConfig{
		{ID: "build", Command: "a"},
		{ID: "build", Command: "b"},
	}
	if errs := Validate(cfg); !hasError(errs, "audit.verification.sandbox[1].id", "duplicate") {
		t.Errorf("duplicate step id not flagged: %v", errs)
	}
}

func TestValidate_BadDurations(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Defaults.StepTimeout = "five minutes"
	cfg.Audit.Verification.Scans = []ScanConfig{{Name: "s", Command: "c", Timeout: "1 parsec"}}

	errs := Validate(cfg)
	if !hasError(errs, "audit.defaults.step_timeout", "invalid duration") {
		t.Errorf("bad default timeout not flagged: %v", errs)
	}
	if !hasError(errs, "audit.verification.scans[0].timeout", "invalid duration") {
		t.Errorf("bad scan timeout not flagged: %v", errs)
	}
}

func TestValidate_MissingCommands(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Verification.Scans = []ScanConfig{{Name: "s"}}
	cfg.Audit.Verification.Sandbox = []StepConfig{{ID: "build"}}

	errs := Validate(cfg)
	if !hasError(errs, "audit.verification.scans[0].command", "required") {
		t.Errorf("missing scan command not flagged: %v", errs)
	}
	if !hasError(errs, "audit.verification.sandbox[0].command", "required") {
		t.Errorf("missing step command not flagged: %v", errs)
	}
}
