// Package lifecycle correlates a completed run's findings against the
// previous completed run for the same project, annotating each finding's
// history without ever mutating the runs themselves.
package lifecycle

import (
	"context"

	"github.com/tolkaudit/tolkaudit/internal/audit"
	"github.com/tolkaudit/tolkaudit/internal/compare"
	"github.com/tolkaudit/tolkaudit/internal/events"
)

// State classifies one finding relative to the previous run.
type State string

const (
	StateNew       State = "new"       // no prior finding with this signature
	StateRecurring State = "recurring" // present in the previous run too
	StateWorsened  State = "worsened"  // recurring with a higher severity now
	StateImproved  State = "improved"  // recurring with a lower severity now
)

// Entry is one finding's lifecycle annotation.
type Entry struct {
	FindingID     string         `json:"finding_id"`
	Signature     string         `json:"signature"`
	State         State          `json:"state"`
	PrevSeverity  audit.Severity `json:"prev_severity,omitempty"`
	PrevFindingID string         `json:"prev_finding_id,omitempty"`
}

// Mapping is the result of correlating one run against its predecessor.
type Mapping struct {
	RunID     string  `json:"run_id"`
	PrevRunID string  `json:"prev_run_id,omitempty"`
	Entries   []Entry `json:"entries"`
	Resolved  int     `json:"resolved_count"` // prior findings absent from this run
}

// EventMapped is the run-queue event published when a mapping is produced.
const EventMapped = "lifecycle-mapped"

// Map correlates findings by signature. With no previous run every finding
// is new.
func Map(runID string, findings []audit.Finding, prevRunID string, prevFindings []audit.Finding) *Mapping {
	m := &Mapping{RunID: runID, PrevRunID: prevRunID}

	prev := make(map[string]audit.Finding, len(prevFindings))
	for _, f := range prevFindings {
		prev[compare.Signature(f)] = f
	}

	seen := make(map[string]bool, len(findings))
	for _, f := range findings {
		sig := compare.Signature(f)
		seen[sig] = true
		entry := Entry{FindingID: f.ID, Signature: sig, State: StateNew}
		if old, ok := prev[sig]; ok {
			entry.State = StateRecurring
			entry.PrevSeverity = old.Severity
			entry.PrevFindingID = old.ID
			switch {
			case severityWeight(f.Severity) > severityWeight(old.Severity):
				entry.State = StateWorsened
			case severityWeight(f.Severity) < severityWeight(old.Severity):
				entry.State = StateImproved
			}
		}
		m.Entries = append(m.Entries, entry)
	}

	for sig := range prev {
		if !seen[sig] {
			m.Resolved++
		}
	}
	return m
}

// Mapper is the orchestrator's lifecycle hook: it maps and publishes the
// result as one event on the run queue.
type Mapper struct {
	bus *events.Bus
}

// NewMapper creates a Mapper publishing on the given bus.
func NewMapper(bus *events.Bus) *Mapper {
	return &Mapper{bus: bus}
}

// Publish computes the mapping and emits it. Best effort: a publish failure
// is dropped, consistent with the bus being a progress hint.
func (m *Mapper) Publish(ctx context.Context, projectID, runID string, findings []audit.Finding, prevRunID string, prevFindings []audit.Finding) *Mapping {
	mapping := Map(runID, findings, prevRunID, prevFindings)
	_, _ = m.bus.Publish(ctx, projectID, events.QueueRun, runID, EventMapped, mapping)
	return mapping
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
