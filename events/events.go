/*
Package events publishes payroll domain events after commit.

PURPOSE:
  Downstream consumers (billing, notifications, reporting) learn about new
  compensation intervals and payroll runs without polling the database.

DELIVERY:
  Fire-and-forget. Events are published after the storage transaction
  commits; a publish failure is logged by the caller and never fails the
  operation that produced the event.

EVENT TYPES:
  compensation.created        - new interval (and the one it closed, if any)
  payroll_run.generated       - draft run persisted
  payroll_run.status_changed  - confirm / pay
  payroll_batch.submitted     - batch for (org, month) processed

IMPLEMENTATIONS:
  - RedisStream: XADD to a Redis Stream, payload as JSON under "data"
  - Recorder:    in-memory, for tests
  - Nop:         discards everything
*/
package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypeCompensationCreated = "compensation.created"
	TypeRunGenerated        = "payroll_run.generated"
	TypeRunStatusChanged    = "payroll_run.status_changed"
	TypeBatchSubmitted      = "payroll_batch.submitted"

	AggregateCompensation = "user_compensation"
	AggregatePayrollRun   = "payroll_run"
	AggregatePayrollBatch = "payroll_batch"

	// SchemaVersion is bumped when a payload shape changes incompatibly.
	SchemaVersion = 1
)

// Event is the envelope every consumer sees.
type Event struct {
	ID            string    `json:"event_id"`
	Type          string    `json:"event_type"`
	AggregateID   string    `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	OrgID         int64     `json:"org_id"`
	Payload       any       `json:"payload"`
	Timestamp     time.Time `json:"timestamp"`
	Version       int       `json:"version"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType, aggregateType string, aggregateID int64, orgID int64, payload any) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateID:   strconv.FormatInt(aggregateID, 10),
		AggregateType: aggregateType,
		OrgID:         orgID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		Version:       SchemaVersion,
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// =============================================================================
// NOP / RECORDER
// =============================================================================

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	// Err, if set, is returned from every Publish after recording.
	Err error
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.Err
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
