package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/synapse/internal/taskqueue"
	"github.com/petrijr/synapse/pkg/api"
)

// Result is the outcome of one queued run request.
type Result struct {
	// TaskID is the ID returned by Enqueue.
	TaskID string

	// Run is nil only when the run could not be started.
	Run *api.RunResult
	Err error
}

// Config holds optional Worker settings.
type Config struct {
	// OnResult, if set, is called after every processed task.
	OnResult func(ctx context.Context, res Result)

	Logger *slog.Logger
}

// Worker pulls run requests from a Queue and executes them on an Engine.
// Several workers may share one engine and one queue.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue

	onResult func(ctx context.Context, res Result)
	logger   *slog.Logger
}

// New creates a new Worker with default config.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a Worker with the given config.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		engine:   engine,
		queue:    queue,
		onResult: cfg.OnResult,
		logger:   logger,
	}
}

// Enqueue queues a run of the engine's workflow with the given input and
// returns the task ID that will be reported in its Result.
// It does NOT run the workflow itself; that is done by ProcessOne.
func (w *Worker) Enqueue(ctx context.Context, input string) (string, error) {
	id := uuid.NewString()
	if err := w.EnqueueWithID(ctx, id, input); err != nil {
		return "", err
	}
	return id, nil
}

// EnqueueWithID is like Enqueue but uses a caller-chosen task ID, so the
// caller can prepare for the result before the task becomes visible.
func (w *Worker) EnqueueWithID(ctx context.Context, id, input string) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		ID:         id,
		Input:      input,
		EnqueuedAt: time.Now(),
	})
}

// ProcessOne pulls a single task from the queue and runs it.
// Returns (processed, error):
//   - processed == false: no task was obtained; err is the dequeue error
//     (usually ctx cancellation).
//   - processed == true: a run was attempted; err is the run error, if any.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	res, runErr := w.engine.Run(ctx, task.Input)
	if runErr != nil {
		attrs := []any{
			slog.String("task_id", task.ID),
			slog.Any("error", runErr),
		}
		if res != nil {
			attrs = append(attrs, slog.String("run_id", res.RunID))
		}
		w.logger.WarnContext(ctx, "queued run failed", attrs...)
	}

	if w.onResult != nil {
		w.onResult(ctx, Result{TaskID: task.ID, Run: res, Err: runErr})
	}
	return true, runErr
}
