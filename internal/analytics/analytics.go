// Package analytics aggregates audit-run history into summary statistics.
// Everything here is pure over the run list; the CLI feeds it from the
// run store.
package analytics

import (
	"math"
	"sort"

	"github.com/tolkaudit/tolkaudit/internal/audit"
	"github.com/tolkaudit/tolkaudit/internal/orchestrator"
)

// Summary holds aggregate statistics over a set of audit runs.
type Summary struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	PassRate  float64        `json:"pass_rate"` // completed / terminal
	Durations DurationStats  `json:"durations"`
	Severity  map[string]int `json:"severity"` // across completed runs' findings
}

// DurationStats holds run wall-clock duration statistics in minutes.
type DurationStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg_minutes"`
	P50   float64 `json:"p50_minutes"`
	P95   float64 `json:"p95_minutes"`
}

// Summarize computes a Summary over the given runs.
func Summarize(runs []orchestrator.Run) *Summary {
	s := &Summary{
		ByStatus: make(map[string]int),
		Severity: make(map[string]int),
	}

	var durations []float64
	terminal, completed := 0, 0
	for _, r := range runs {
		s.Total++
		s.ByStatus[r.Status]++
		if r.Terminal() {
			terminal++
		}
		if r.Status == orchestrator.StatusCompleted {
			completed++
			for _, f := range r.Findings {
				s.Severity[string(audit.NormalizeSeverity(string(f.Severity)))]++
			}
		}
		if r.StartedAt != nil && r.FinishedAt != nil {
			minutes := r.FinishedAt.Sub(*r.StartedAt).Minutes()
			if minutes >= 0 {
				durations = append(durations, minutes)
			}
		}
	}

	if terminal > 0 {
		s.PassRate = round2(float64(completed) / float64(terminal))
	}
	s.Durations = durationStats(durations)
	return s
}

func durationStats(minutes []float64) DurationStats {
	ds := DurationStats{Count: len(minutes)}
	if len(minutes) == 0 {
		return ds
	}
	sort.Float64s(minutes)

	sum := 0.0
	for _, m := range minutes {
		sum += m
	}
	ds.Avg = round2(sum / float64(len(minutes)))
	ds.P50 = round2(percentile(minutes, 0.50))
	ds.P95 = round2(percentile(minutes, 0.95))
	return ds
}

// percentile computes the given percentile from a sorted slice using
// nearest-rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
