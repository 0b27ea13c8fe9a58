// Package taskqueue holds pending run requests until a worker picks them up.
package taskqueue

import (
	"context"
	"time"
)

// Task is a request to execute the workflow once with the given input.
type Task struct {
	// ID correlates the request with its result; it is not the run ID,
	// which the engine assigns when the run starts.
	ID    string
	Input string

	EnqueuedAt time.Time
}

// Queue is a FIFO of run requests.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is available
	// or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
