package persistence

import (
	"context"

	"github.com/petrijr/synapse/pkg/api"
)

// DefaultListLimit is used by ListRuns when the caller passes limit <= 0.
const DefaultListLimit = 50

// TraceWriter is the append-only write side of a trace store.
//
// Implementations must be safe for concurrent use by multiple runs. Each
// call is a single write at the storage boundary; records of different
// runs never affect each other.
type TraceWriter interface {
	// StartRun creates or overwrites the run header.
	StartRun(ctx context.Context, run api.Run) error

	// RecordStepAttempt appends an attempt record and assigns its ID.
	RecordStepAttempt(ctx context.Context, rec *api.StepAttempt) error

	// RecordContextVersion appends a context snapshot and assigns its ID.
	RecordContextVersion(ctx context.Context, v *api.ContextVersion) error
}

// TraceReader is the query side consumed by the reporting service.
// Unknown run IDs yield empty slices, not errors.
type TraceReader interface {
	// ListRuns returns up to limit runs, most recently started first.
	ListRuns(ctx context.Context, limit int) ([]api.Run, error)

	// ListStepAttempts returns a run's attempts by timestamp, ties broken
	// by insertion order.
	ListStepAttempts(ctx context.Context, runID string) ([]api.StepAttempt, error)

	// ListContextVersions returns a run's context snapshots by version.
	ListContextVersions(ctx context.Context, runID string) ([]api.ContextVersion, error)
}

// TraceStore is the full persistence surface used by the engine and the
// reporting service. Every error it returns is an *api.PersistenceError.
type TraceStore interface {
	TraceWriter
	TraceReader

	// Close releases resources owned by the store.
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
