package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/kvlet/internal/record"
)

// EventType defines the kind of record event.
type EventType string

const (
	EventWrite          EventType = "write"
	EventDispatch       EventType = "dispatch"
	EventDispatchFailed EventType = "dispatch_failed"
	EventTargetUpdate   EventType = "target_update"
)

// Event is one append-only history entry for a record.
// StatusCode is zero unless Type is EventDispatch.
type Event struct {
	EventID    string    `json:"event_id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Method     string    `json:"method,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	StatusCode uint16    `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewEvent fills the record-derived fields of an event.
func NewEvent(t EventType, rec record.Record, at time.Time) Event {
	e := Event{EventID: uuid.NewString(), Type: t, OccurredAt: at.UTC(), ID: rec.ID, State: rec.State}
	if rec.Target != nil {
		e.Method = rec.Target.Method.String()
		e.Endpoint = rec.Target.Endpoint
	}
	return e
}

// Sink is a destination for history events (audit/analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
