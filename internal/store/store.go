package store

import (
	"context"

	"github.com/loykin/kvlet/internal/record"
)

// DefaultListLimit bounds List when no positive limit is supplied.
const DefaultListLimit = 10

// ListOptions selects records for List.
// State, when non-empty, is matched exactly (case-sensitive).
type ListOptions struct {
	Limit int
	State string
}

// Store is the persistence contract for kvlet records.
// Every failure is reported as *record.StorageError; a missing record is
// reported as nil, never as an error, except by RecordOutcome.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Lookup(ctx context.Context, id string) (*record.Record, error)
	// ReconcileWrite creates or merges the record in one transaction and
	// returns the stored result before any dispatch. created reports whether
	// the row was inserted by this call.
	ReconcileWrite(ctx context.Context, w record.Write) (rec record.Record, created bool, err error)
	RecordOutcome(ctx context.Context, id string, statusCode uint16, body string) error
	// UpdateTarget replaces the stored target of an existing record.
	// It returns nil when no record exists for id.
	UpdateTarget(ctx context.Context, id string, target *record.Target) (*record.Record, error)
	List(ctx context.Context, opts ListOptions) ([]record.Record, error)
	Close() error
}
