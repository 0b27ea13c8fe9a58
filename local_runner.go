package synapse

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/synapse/internal/taskqueue"
	"github.com/petrijr/synapse/pkg/worker"
)

// RunOutcome is delivered on the channel returned by LocalRunner.Submit.
type RunOutcome struct {
	Result *RunResult
	Err    error
}

// LocalRunner executes many runs of one Engine concurrently inside the
// process: Submit queues a run and worker goroutines pick runs up from an
// in-memory queue. Each run is still executed step by step.
//
// Typical usage:
//
//	runner := synapse.NewLocalRunner(eng)
//	_ = runner.StartWorkers(ctx, 4)
//	defer runner.Stop()
//
//	ticket, _ := runner.Submit(ctx, "neural rendering")
//	out := <-ticket
type LocalRunner struct {
	// Engine executes every submitted run.
	Engine Engine

	// Queue holds submitted runs until a worker takes them.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	logger *slog.Logger

	// retryDelay is the pause after a failed dequeue.
	retryDelay time.Duration

	mu      sync.Mutex
	pending map[string]chan RunOutcome
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var errRunnerStarted = errors.New("synapse: LocalRunner already started")

const defaultDequeueRetryDelay = 100 * time.Millisecond

// NewLocalRunner constructs a LocalRunner around eng with an in-memory
// queue of capacity 1024.
func NewLocalRunner(eng Engine) *LocalRunner {
	return NewLocalRunnerWithQueue(eng, taskqueue.NewInMemoryQueue(1024))
}

// NewLocalRunnerWithQueue is like NewLocalRunner but uses q. Results are
// only delivered for runs submitted through this runner.
func NewLocalRunnerWithQueue(eng Engine, q taskqueue.Queue) *LocalRunner {
	r := &LocalRunner{
		Engine:     eng,
		Queue:      q,
		logger:     slog.Default(),
		retryDelay: defaultDequeueRetryDelay,
		pending:    make(map[string]chan RunOutcome),
	}
	r.Worker = worker.NewWithConfig(eng, q, worker.Config{
		OnResult: r.deliver,
		Logger:   r.logger,
	})
	return r
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errRunnerStarted
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()
			for {
				processed, err := r.Worker.ProcessOne(ctx)
				if ctx.Err() != nil {
					return
				}
				if !processed && err != nil {
					// Dequeue failures are not run failures; keep the loop alive
					// but do not spin on a queue that keeps failing.
					r.logger.WarnContext(ctx, "local runner dequeue failed", slog.Any("error", err))
					t := time.NewTimer(r.retryDelay)
					select {
					case <-ctx.Done():
						t.Stop()
						return
					case <-t.C:
					}
				}
			}
		}()
	}
	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit. Runs still queued stay in the queue.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Submit queues a run with the given input. The returned channel receives
// exactly one RunOutcome once a worker has executed the run.
func (r *LocalRunner) Submit(ctx context.Context, input string) (<-chan RunOutcome, error) {
	id := uuid.NewString()
	ch := make(chan RunOutcome, 1)

	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()

	if err := r.Worker.EnqueueWithID(ctx, id, input); err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// Run executes one run synchronously on the caller's goroutine, bypassing
// the queue.
func (r *LocalRunner) Run(ctx context.Context, input string) (*RunResult, error) {
	return r.Engine.Run(ctx, input)
}

func (r *LocalRunner) deliver(ctx context.Context, res worker.Result) {
	r.mu.Lock()
	ch, ok := r.pending[res.TaskID]
	delete(r.pending, res.TaskID)
	r.mu.Unlock()

	if ok {
		ch <- RunOutcome{Result: res.Run, Err: res.Err}
	}
}
