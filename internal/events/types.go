package events

import (
	"encoding/json"
	"time"
)

// Queue names used by the pipeline.
const (
	QueueVerify = "verify"
	QueueAudit  = "audit"
	QueueRun    = "run"
)

// Event is one immutable, append-only record of pipeline progress.
// Many events share a job id; none is ever mutated after publish.
type Event struct {
	ID        int64           `json:"id"`
	ProjectID string          `json:"project_id,omitempty"` // empty for system jobs
	Queue     string          `json:"queue"`
	JobID     string          `json:"job_id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// DecodePayload unmarshals the event payload into v.
func (e *Event) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
