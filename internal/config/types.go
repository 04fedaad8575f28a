package config

// Config is the top-level configuration structure parsed from audit YAML.
type Config struct {
	Audit Audit `yaml:"audit"`
}

// Audit defines the full audit setup: storage, model defaults, and the
// verification plan.
type Audit struct {
	Name          string       `yaml:"name"`
	DataDir       string       `yaml:"data_dir"`
	DatabaseURL   string       `yaml:"database_url"`
	AgentCommand  string       `yaml:"agent_command"`
	RetentionDays int          `yaml:"retention_days"`
	Defaults      Defaults     `yaml:"defaults"`
	Verification  Verification `yaml:"verification"`
}

// Defaults holds values applied when a run request doesn't specify its own.
type Defaults struct {
	PrimaryModel  string `yaml:"primary_model"`
	FallbackModel string `yaml:"fallback_model"`
	Profile       string `yaml:"profile"`      // "fast" or "deep"
	StepTimeout   string `yaml:"step_timeout"` // duration string, e.g. "2m"
}

// Verification is the plan template: static scans plus ordered sandbox steps.
type Verification struct {
	Scans   []ScanConfig `yaml:"scans"`
	Sandbox []StepConfig `yaml:"sandbox"`
}

// ScanConfig defines one static, deterministic check.
type ScanConfig struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	Timeout string `yaml:"timeout"`
}

// StepConfig defines one sandboxed execution step.
type StepConfig struct {
	ID       string `yaml:"id"`
	Action   string `yaml:"action"`
	Command  string `yaml:"command"`
	Timeout  string `yaml:"timeout"`
	Optional bool   `yaml:"optional"`
}
