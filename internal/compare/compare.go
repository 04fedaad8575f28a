// Package compare computes the structured delta between two completed audit
// runs' finding and file sets. It is pure: no persisted state is touched.
package compare

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tolkaudit/tolkaudit/internal/audit"
)

// ErrInvalidComparison rejects comparing a run against itself or against a
// run that has not completed.
var ErrInvalidComparison = errors.New("invalid comparison")

// PreviewLimit caps the example entries per report category. Counts are
// always exact regardless of truncation.
const PreviewLimit = 10

// Run is the comparison input: one completed run's findings and file paths.
type Run struct {
	ID       string
	Status   string // must be "completed"
	Findings []audit.Finding
	Files    []string
}

// FindingRef identifies one finding by its cross-run signature.
type FindingRef struct {
	Signature string         `json:"signature"`
	Path      string         `json:"path"`
	Title     string         `json:"title"`
	Severity  audit.Severity `json:"severity"`
}

// Persisting is a finding present in both runs, with both severities.
type Persisting struct {
	Signature    string         `json:"signature"`
	Path         string         `json:"path"`
	Title        string         `json:"title"`
	FromSeverity audit.Severity `json:"from_severity"`
	ToSeverity   audit.Severity `json:"to_severity"`
}

// Changed reports whether the severity moved between runs.
func (p Persisting) Changed() bool {
	return p.FromSeverity != p.ToSeverity
}

// Report is the full comparison result. Every count is exact; every preview
// list is capped at PreviewLimit entries.
type Report struct {
	FromRunID string `json:"from_run_id"`
	ToRunID   string `json:"to_run_id"`

	NewCount        int          `json:"new_count"`
	ResolvedCount   int          `json:"resolved_count"`
	PersistingCount int          `json:"persisting_count"`
	SeverityChanged int          `json:"severity_changed_count"`
	NewPreview      []FindingRef `json:"new_preview,omitempty"`
	ResolvedPreview []FindingRef `json:"resolved_preview,omitempty"`
	PersistPreview  []Persisting `json:"persisting_preview,omitempty"`

	FilesAdded     int      `json:"files_added_count"`
	FilesRemoved   int      `json:"files_removed_count"`
	FilesUnchanged int      `json:"files_unchanged_count"`
	AddedPreview   []string `json:"files_added_preview,omitempty"`
	RemovedPreview []string `json:"files_removed_preview,omitempty"`
}

// Signature derives the stable cross-run join key for a finding: the
// normalized file path plus the normalized title. Finding ids are
// regenerated per run and never used for identity.
func Signature(f audit.Finding) string {
	return normalizePath(f.Evidence.Path) + "\x00" + normalizeTitle(f.Title)
}

// Compare partitions toRun's findings into new/persisting and fromRun's into
// resolved/persisting by signature, records severity movement for persisting
// findings, and diffs the two file path sets.
func Compare(fromRun, toRun Run) (*Report, error) {
	if fromRun.ID == toRun.ID {
		return nil, fmt.Errorf("run %s compared against itself: %w", fromRun.ID, ErrInvalidComparison)
	}
	for _, r := range []Run{fromRun, toRun} {
		if r.Status != "completed" {
			return nil, fmt.Errorf("run %s has status %q, want completed: %w", r.ID, r.Status, ErrInvalidComparison)
		}
	}

	fromSigs := indexBySignature(fromRun.Findings)
	toSigs := indexBySignature(toRun.Findings)

	report := &Report{FromRunID: fromRun.ID, ToRunID: toRun.ID}

	// toRun findings: new vs persisting.
	for _, sig := range sortedKeys(toSigs) {
		f := toSigs[sig]
		old, ok := fromSigs[sig]
		if !ok {
			report.NewCount++
			if len(report.NewPreview) < PreviewLimit {
				report.NewPreview = append(report.NewPreview, ref(sig, f))
			}
			continue
		}
		report.PersistingCount++
		p := Persisting{
			Signature:    sig,
			Path:         normalizePath(f.Evidence.Path),
			Title:        f.Title,
			FromSeverity: old.Severity,
			ToSeverity:   f.Severity,
		}
		if p.Changed() {
			report.SeverityChanged++
		}
		if len(report.PersistPreview) < PreviewLimit {
			report.PersistPreview = append(report.PersistPreview, p)
		}
	}

	// fromRun findings absent from toRun: resolved.
	for _, sig := range sortedKeys(fromSigs) {
		if _, ok := toSigs[sig]; ok {
			continue
		}
		report.ResolvedCount++
		if len(report.ResolvedPreview) < PreviewLimit {
			report.ResolvedPreview = append(report.ResolvedPreview, ref(sig, fromSigs[sig]))
		}
	}

	diffFiles(report, fromRun.Files, toRun.Files)
	return report, nil
}

// indexBySignature maps findings by signature. When a run carries duplicate
// signatures the highest severity wins, so the partition stays a partition.
func indexBySignature(findings []audit.Finding) map[string]audit.Finding {
	idx := make(map[string]audit.Finding, len(findings))
	for _, f := range findings {
		sig := Signature(f)
		if cur, ok := idx[sig]; ok && severityWeight(cur.Severity) >= severityWeight(f.Severity) {
			continue
		}
		idx[sig] = f
	}
	return idx
}

func diffFiles(report *Report, fromFiles, toFiles []string) {
	fromSet := make(map[string]bool, len(fromFiles))
	for _, p := range fromFiles {
		fromSet[normalizePath(p)] = true
	}
	toSet := make(map[string]bool, len(toFiles))
	for _, p := range toFiles {
		toSet[normalizePath(p)] = true
	}

	for _, p := range sortedBoolKeys(toSet) {
		if fromSet[p] {
			report.FilesUnchanged++
			continue
		}
		report.FilesAdded++
		if len(report.AddedPreview) < PreviewLimit {
			report.AddedPreview = append(report.AddedPreview, p)
		}
	}
	for _, p := range sortedBoolKeys(fromSet) {
		if toSet[p] {
			continue
		}
		report.FilesRemoved++
		if len(report.RemovedPreview) < PreviewLimit {
			report.RemovedPreview = append(report.RemovedPreview, p)
		}
	}
}

func ref(sig string, f audit.Finding) FindingRef {
	return FindingRef{
		Signature: sig,
		Path:      normalizePath(f.Evidence.Path),
		Title:     f.Title,
		Severity:  f.Severity,
	}
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(strings.TrimSpace(p), "/")
}

func normalizeTitle(t string) string {
	return strings.Join(strings.Fields(strings.ToLower(t)), " ")
}

func severityWeight(s audit.Severity) int {
	switch s {
	case audit.SeverityCritical:
		return 4
	case audit.SeverityHigh:
		return 3
	case audit.SeverityMedium:
		return 2
	case audit.SeverityLow:
		return 1
	default:
		return 0
	}
}

func sortedKeys(m map[string]audit.Finding) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedBoolKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
