package synapse

import (
	"context"
	"database/sql"

	"github.com/petrijr/synapse/internal/persistence"
	"github.com/petrijr/synapse/internal/taskqueue"
	workerpkg "github.com/petrijr/synapse/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable run-request queue, and
// a Worker that consumes requests from that queue.
//
// For now, we only provide a SQLite-backed bundle.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker
	Store  TraceStore

	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Traces and queued run requests both live in db,
// so requests enqueued before a restart are picked up afterwards.
//
// The queue and the trace store write through separate statements, so the
// bundle limits db to a single open connection. Concurrent workers on a file
// database would otherwise fail with SQLITE_BUSY.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "synapse.db")
//	bundle, err := synapse.NewSQLiteBundle(ctx, db, graph, worker.Config{})
//	_, _ = bundle.Worker.Enqueue(ctx, "neural rendering")
//	_, _ = bundle.Worker.ProcessOne(ctx)
func NewSQLiteBundle(ctx context.Context, db *sql.DB, graph *WorkflowGraph, cfg workerpkg.Config, opts ...EngineOption) (*WorkerBundle, error) {
	db.SetMaxOpenConns(1)

	store, err := persistence.NewSQLiteTraceStore(ctx, db)
	if err != nil {
		return nil, err
	}

	eng, err := NewEngine(graph, store, opts...)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(ctx, db)
	if err != nil {
		return nil, err
	}

	return &WorkerBundle{
		Engine: eng,
		Worker: workerpkg.NewWithConfig(eng, q, cfg),
		Store:  store,
		queue:  q,
	}, nil
}

// Pending returns the number of queued run requests.
func (b *WorkerBundle) Pending() int {
	return b.queue.Len()
}
