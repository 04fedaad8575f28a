package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrForbidden is returned when a subscriber's claimed project id does not
// match the project that owns the job's events.
var ErrForbidden = errors.New("forbidden")

// Store persists events. Append assigns the event id and must keep per-job
// insertion order stable.
type Store interface {
	Append(ctx context.Context, e *Event) error
	ListByJob(ctx context.Context, jobID string) ([]Event, error)
}

// subscriber is one live observer of a job's event stream.
type subscriber struct {
	projectID string
	ch        chan Event
	closed    bool
}

// Bus is the append-and-subscribe distribution point for job events. Every
// publish persists the event and fans it out to active subscribers of that
// job id. Delivery is at-least-once and ordered per job id; a subscriber
// that cannot keep up is dropped rather than blocking publishers, so
// consumers must treat the stream as a progress hint and re-derive
// authoritative state by polling.
type Bus struct {
	store Store

	mu   sync.Mutex
	subs map[string][]*subscriber
}

// subscriberBuffer bounds per-subscriber queueing before it is dropped.
const subscriberBuffer = 256

// NewBus creates a Bus over the given store.
func NewBus(store Store) *Bus {
	return &Bus{
		store: store,
		subs:  make(map[string][]*subscriber),
	}
}

// Publish appends one event and fans it out. The payload is marshalled to
// JSON; pass nil for event-only signals.
func (b *Bus) Publish(ctx context.Context, projectID, queue, jobID, name string, payload interface{}) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}

	e := &Event{
		ProjectID: projectID,
		Queue:     queue,
		JobID:     jobID,
		Name:      name,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	live := b.subs[jobID][:0]
	for _, sub := range b.subs[jobID] {
		if sub.closed {
			continue
		}
		if sub.projectID != "" && e.ProjectID != "" && sub.projectID != e.ProjectID {
			live = append(live, sub)
			continue
		}
		select {
		case sub.ch <- *e:
			live = append(live, sub)
		default:
			// Slow consumer: drop it. It can resubscribe and replay.
			sub.closed = true
			close(sub.ch)
		}
	}
	b.subs[jobID] = live
	return e, nil
}

// Subscribe returns a channel of events for one job id, replaying all
// persisted events before streaming live ones. The claimed project id must
// match the project recorded on the job's events or ErrForbidden is
// returned. The returned cancel func must be called to release the
// subscription.
func (b *Bus) Subscribe(ctx context.Context, jobID, projectID string) (<-chan Event, func(), error) {
	// Snapshot AND attach under the same lock. A publish appends to the
	// store before taking b.mu, so anything that lands while we hold the
	// lock is either already in the snapshot or will be fanned out after
	// we attach: no event falls between replay and the live stream.
	// Duplicates are possible (at-least-once); losses are not.
	b.mu.Lock()
	history, err := b.store.ListByJob(ctx, jobID)
	if err != nil {
		b.mu.Unlock()
		return nil, nil, fmt.Errorf("list events for job %s: %w", jobID, err)
	}
	for _, e := range history {
		if e.ProjectID != "" && e.ProjectID != projectID {
			b.mu.Unlock()
			return nil, nil, fmt.Errorf("job %s belongs to another project: %w", jobID, ErrForbidden)
		}
	}

	sub := &subscriber{
		projectID: projectID,
		ch:        make(chan Event, subscriberBuffer+len(history)),
	}
	for _, e := range history {
		sub.ch <- e
	}
	b.subs[jobID] = append(b.subs[jobID], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	return sub.ch, cancel, nil
}

// MemoryStore is an in-process event store. The pgx-backed store in
// internal/db is the durable counterpart.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byJob  map[string][]Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byJob: make(map[string][]Event)}
}

// Append stores a copy of the event and assigns its id.
func (m *MemoryStore) Append(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	m.byJob[e.JobID] = append(m.byJob[e.JobID], *e)
	return nil
}

// ListByJob returns all events for a job in append order.
func (m *MemoryStore) ListByJob(_ context.Context, jobID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.byJob[jobID]))
	copy(out, m.byJob[jobID])
	return out, nil
}
