package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tolkaudit/tolkaudit/internal/events"
	"github.com/tolkaudit/tolkaudit/internal/orchestrator"
)

// handleStream serves a Server-Sent Events stream of a run's job events.
// Persisted events are replayed first, then live ones as they are
// published. When a terminal run status event passes through, the stream
// sends a "done" event and ends. The stream is a progress hint: a client
// that reconnects after a gap re-derives state from /pipeline and /verify.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	projectID := r.URL.Query().Get("project")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.bus.Subscribe(r.Context(), jobID, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present

	sendDone := func(reason string) {
		fmt.Fprintf(w, "event: done\ndata: %s\n\n", reason)
		flusher.Flush()
	}

	// Quiet runs get a stalled hint rather than a dropped connection.
	stalled := make(chan struct{}, 1)
	wd := events.NewWatchdog(0, func(gap time.Duration) {
		select {
		case stalled <- struct{}{}:
		default:
		}
	})
	defer wd.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-ch:
			if !open {
				sendDone("subscription dropped; reconnect to resume")
				return
			}
			wd.Touch()
			writeSSE(w, flusher, e)
			if e.Queue == events.QueueRun && e.Name == orchestrator.EventRunStatus && terminalStatus(e) {
				sendDone("run finished")
				return
			}
		case <-stalled:
			fmt.Fprintf(w, "event: stalled\ndata: no events within the quiet window\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, data)
	flusher.Flush()
}

// terminalStatus checks a run-status event payload for a terminal status.
func terminalStatus(e events.Event) bool {
	var pl struct {
		Status string `json:"status"`
	}
	if err := e.DecodePayload(&pl); err != nil {
		return false
	}
	switch pl.Status {
	case orchestrator.StatusCompleted, orchestrator.StatusFailed, orchestrator.StatusCancelled:
		return true
	}
	return false
}
