package config

import (
	"fmt"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedProfiles is the set of valid audit profiles.
var recognizedProfiles = map[string]bool{
	"fast": true,
	"deep": true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	a := cfg.Audit

	if a.Name == "" {
		errs = append(errs, ValidationError{Field: "audit.name", Message: "is required"})
	}
	if a.Defaults.PrimaryModel == "" {
		errs = append(errs, ValidationError{Field: "audit.defaults.primary_model", Message: "is required"})
	}
	if !recognizedProfiles[a.Defaults.Profile] {
		errs = append(errs, ValidationError{
			Field:   "audit.defaults.profile",
			Message: fmt.Sprintf("unknown profile %q (want fast or deep)", a.Defaults.Profile),
		})
	}
	if a.RetentionDays < 0 {
		errs = append(errs, ValidationError{Field: "audit.retention_days", Message: "must not be negative"})
	}

	validateDuration(a.Defaults.StepTimeout, "audit.defaults.step_timeout", &errs)

	scanNames := make(map[string]bool)
	for i, s := range a.Verification.Scans {
		field := fmt.Sprintf("audit.verification.scans[%d]", i)
		if s.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "is required"})
		} else if scanNames[s.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate scan name %q", s.Name),
			})
		}
		scanNames[s.Name] = true
		if s.Command == "" {
			errs = append(errs, ValidationError{Field: field + ".command", Message: "is required"})
		}
		validateDuration(s.Timeout, field+".timeout", &errs)
	}

	stepIDs := make(map[string]bool)
	for i, s := range a.Verification.Sandbox {
		field := fmt.Sprintf("audit.verification.sandbox[%d]", i)
		if s.ID == "" {
			errs = append(errs, ValidationError{Field: field + ".id", Message: "is required"})
		} else if stepIDs[s.ID] {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate step ID %q", s.ID),
			})
		}
		stepIDs[s.ID] = true
		if s.Command == "" {
			errs = append(errs, ValidationError{Field: field + ".command", Message: "is required"})
		}
		validateDuration(s.Timeout, field+".timeout", &errs)
	}

	return errs
}

func validateDuration(v, field string, errs *[]ValidationError) {
	if v == "" {
		return
	}
	if _, err := time.ParseDuration(v); err != nil {
		*errs = append(*errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration %q", v),
		})
	}
}
