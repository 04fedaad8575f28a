package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tolkaudit/tolkaudit/internal/verify"
)

// Load reads and parses an audit configuration from the given YAML file path.
// After parsing, it applies defaults to fields that don't specify their own values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for an audit config in standard locations and loads
// the first one found. Search order: ./tolkaudit.yaml, ~/.tolkaudit/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"tolkaudit.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".tolkaudit", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no audit config found (searched: %v)", candidates)
}

// applyDefaults fills unset fields that have sensible fallbacks.
func applyDefaults(cfg *Config) {
	a := &cfg.Audit

	if a.Defaults.Profile == "" {
		a.Defaults.Profile = "fast"
	}
	if a.Defaults.StepTimeout == "" {
		a.Defaults.StepTimeout = "2m"
	}
	if a.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			a.DataDir = filepath.Join(home, ".tolkaudit")
		}
	}

	// Steps and scans without their own timeout inherit the default.
	for i := range a.Verification.Scans {
		if a.Verification.Scans[i].Timeout == "" {
			a.Verification.Scans[i].Timeout = a.Defaults.StepTimeout
		}
	}
	for i := range a.Verification.Sandbox {
		if a.Verification.Sandbox[i].Timeout == "" {
			a.Verification.Sandbox[i].Timeout = a.Defaults.StepTimeout
		}
	}
}

// Plan converts the verification template into an executable plan.
// Unparseable timeouts fall back to zero, which the runner treats as its
// own default; Validate flags them first.
func (a *Audit) Plan() verify.Plan {
	var plan verify.Plan
	for _, s := range a.Verification.Scans {
		plan.Scans = append(plan.Scans, verify.Scan{
			Name:    s.Name,
			Command: s.Command,
			Timeout: parseDuration(s.Timeout),
		})
	}
	for _, s := range a.Verification.Sandbox {
		plan.Steps = append(plan.Steps, verify.Step{
			ID:       s.ID,
			Action:   s.Action,
			Command:  s.Command,
			Timeout:  parseDuration(s.Timeout),
			Optional: s.Optional,
		})
	}
	return plan
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
