package web

import (
	"fmt"
	"net/http"

	"github.com/tolkaudit/tolkaudit/internal/audit"
	"github.com/tolkaudit/tolkaudit/internal/compare"
	"github.com/tolkaudit/tolkaudit/internal/events"
	"github.com/tolkaudit/tolkaudit/internal/orchestrator"
	"github.com/tolkaudit/tolkaudit/internal/verify"
)

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handlePipeline rebuilds the stage map by folding the run's audit-queue
// events. The fold, not the live engine, is the observation contract.
func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	history, err := s.store.ListByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	state := audit.NewPipelineState()
	for _, e := range history {
		if e.Queue == events.QueueAudit {
			state.Apply(e)
		}
	}
	writeJSON(w, http.StatusOK, state)
}

// handleVerify rebuilds verification progress from the verify queue.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	history, err := s.store.ListByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	state := verify.NewProgress(verify.Plan{})
	for _, e := range history {
		if e.Queue == events.QueueVerify {
			state.Apply(e)
		}
	}
	writeJSON(w, http.StatusOK, state)
}

// handleEvents lists a run's full event log. The project query parameter is
// the subscriber's claimed project id; a mismatch is Forbidden.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	projectID := r.URL.Query().Get("project")

	history, err := s.store.ListByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, e := range history {
		if e.ProjectID != "" && e.ProjectID != projectID {
			writeError(w, fmt.Errorf("job %s belongs to another project: %w", jobID, events.ErrForbidden))
			return
		}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleProjectRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.orch.ListByProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []orchestrator.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleCompare diffs two completed runs' findings and file sets.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	fromID := r.URL.Query().Get("from")
	toID := r.URL.Query().Get("to")

	fromRun, err := s.compareInput(r, fromID)
	if err != nil {
		writeError(w, err)
		return
	}
	toRun, err := s.compareInput(r, toID)
	if err != nil {
		writeError(w, err)
		return
	}

	report, err := compare.Compare(*fromRun, *toRun)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) compareInput(r *http.Request, runID string) (*compare.Run, error) {
	run, err := s.orch.Get(r.Context(), runID)
	if err != nil {
		return nil, err
	}
	rev, err := s.revisions.GetRevision(run.RevisionID)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(rev.Files))
	for p := range rev.Files {
		files = append(files, p)
	}
	return &compare.Run{
		ID:       run.ID,
		Status:   run.Status,
		Findings: run.Findings,
		Files:    files,
	}, nil
}
