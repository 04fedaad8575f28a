package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/tolkaudit/tolkaudit/internal/compare"
	"github.com/tolkaudit/tolkaudit/internal/events"
	"github.com/tolkaudit/tolkaudit/internal/orchestrator"
	"github.com/tolkaudit/tolkaudit/internal/revision"
)

// Server is the read-only observation surface: run status, folded pipeline
// and verify state, comparison reports, and the live event stream. It never
// renders anything; consumers get JSON and SSE.
type Server struct {
	orch      *orchestrator.Orchestrator
	revisions *revision.Store
	bus       *events.Bus
	store     events.Store
	port      int
}

// NewServer creates a Server.
func NewServer(orch *orchestrator.Orchestrator, revisions *revision.Store, bus *events.Bus, store events.Store, port int) *Server {
	return &Server{orch: orch, revisions: revisions, bus: bus, store: store, port: port}
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/runs/{id}/pipeline", s.handlePipeline)
	mux.HandleFunc("GET /api/runs/{id}/verify", s.handleVerify)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/runs/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /api/projects/{id}/runs", s.handleProjectRuns)
	mux.HandleFunc("GET /api/compare", s.handleCompare)
	return mux
}

// Start runs the HTTP server until it fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	log.Printf("tolkaudit API listening on http://%s", addr)
	return http.ListenAndServe(addr, s.routes())
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrRunNotFound), errors.Is(err, revision.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, events.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, revision.ErrLocked), errors.Is(err, orchestrator.ErrRunActive):
		status = http.StatusConflict
	case errors.Is(err, compare.ErrInvalidComparison), errors.Is(err, revision.ErrInvalidPath):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
