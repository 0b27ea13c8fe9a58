package synapse

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petrijr/synapse/internal/taskqueue"
)

func newRunnerEngine(t *testing.T, store TraceStore) Engine {
	t.Helper()
	graph := New("localrunner").
		Step("research", "builtin_research", Retries(0)).
		Step("summarize", "builtin_summarize").
		MustBuild()

	eng, err := NewEngine(graph, store, WithRetryPolicy(Retry().Immediate().Policy()))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return eng
}

func waitOutcome(t *testing.T, ch <-chan RunOutcome) RunOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for run outcome")
		return RunOutcome{}
	}
}

// TestLocalRunner_SyncAndAsync verifies that LocalRunner can run workflows
// both synchronously (direct Run) and asynchronously via Submit and the
// worker loop.
func TestLocalRunner_SyncAndAsync(t *testing.T) {
	store := NewMemoryTraceStore()
	runner := NewLocalRunner(newRunnerEngine(t, store))
	ctx := context.Background()

	// --- Synchronous run ---

	res, err := runner.Run(ctx, "graph neural networks")
	if err != nil {
		t.Fatalf("sync Run failed: %v", err)
	}
	if got := res.FinalContext["count"]; got != 3 {
		t.Fatalf("expected count=3 after summarize, got %v", got)
	}

	// --- Asynchronous run via worker/queue ---

	if err := runner.StartWorkers(ctx, 2); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	defer runner.Stop()

	ticket, err := runner.Submit(ctx, "diffusion models")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	out := waitOutcome(t, ticket)
	if out.Err != nil {
		t.Fatalf("async run failed: %v", out.Err)
	}
	if got := out.Result.FinalContext[InputKey]; got != "diffusion models" {
		t.Fatalf("expected input to be preserved, got %v", got)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 traced runs, got %d", len(runs))
	}
}

func TestLocalRunner_ManyConcurrentRuns(t *testing.T) {
	store := NewMemoryTraceStore()
	runner := NewLocalRunner(newRunnerEngine(t, store))
	ctx := context.Background()

	if err := runner.StartWorkers(ctx, 4); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	defer runner.Stop()

	const n = 25
	tickets := make([]<-chan RunOutcome, 0, n)
	for i := 0; i < n; i++ {
		ticket, err := runner.Submit(ctx, "topic")
		if err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		tickets = append(tickets, ticket)
	}

	seen := make(map[string]bool, n)
	for _, ticket := range tickets {
		out := waitOutcome(t, ticket)
		if out.Err != nil {
			t.Fatalf("run failed: %v", out.Err)
		}
		if seen[out.Result.RunID] {
			t.Fatalf("run id %s delivered twice", out.Result.RunID)
		}
		seen[out.Result.RunID] = true

		versions, err := store.ListContextVersions(ctx, out.Result.RunID)
		if err != nil {
			t.Fatalf("ListContextVersions failed: %v", err)
		}
		if StatusOf(versions) != RunCompleted {
			t.Fatalf("run %s not completed", out.Result.RunID)
		}
		for i, v := range versions {
			if v.Version != i+1 {
				t.Fatalf("run %s: versions not contiguous: %v", out.Result.RunID, versions)
			}
		}
	}
}

func TestLocalRunner_FailedRunIsDelivered(t *testing.T) {
	runner := NewLocalRunner(newRunnerEngine(t, NewMemoryTraceStore()))
	ctx := context.Background()

	if err := runner.StartWorkers(ctx, 1); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	defer runner.Stop()

	// builtin_research rejects an empty topic.
	ticket, err := runner.Submit(ctx, "   ")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	out := waitOutcome(t, ticket)

	var stepErr *StepExecutionError
	if !errors.As(out.Err, &stepErr) {
		t.Fatalf("expected StepExecutionError, got %v", out.Err)
	}
	if stepErr.Step != "research" || stepErr.Attempts != 1 {
		t.Fatalf("unexpected failure: %+v", stepErr)
	}
	if out.Result == nil || out.Result.RunID != stepErr.RunID {
		t.Fatalf("expected partial result for run %s, got %+v", stepErr.RunID, out.Result)
	}
}

func TestLocalRunner_StartTwiceFails(t *testing.T) {
	runner := NewLocalRunner(newRunnerEngine(t, NewMemoryTraceStore()))
	ctx := context.Background()

	if err := runner.StartWorkers(ctx, 1); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	defer runner.Stop()

	if err := runner.StartWorkers(ctx, 1); err == nil {
		t.Fatalf("expected second StartWorkers to fail")
	}
}

func TestLocalRunner_StopIsIdempotentAndRestartable(t *testing.T) {
	runner := NewLocalRunner(newRunnerEngine(t, NewMemoryTraceStore()))
	ctx := context.Background()

	runner.Stop()
	if err := runner.StartWorkers(ctx, 2); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	runner.Stop()
	runner.Stop()

	// Submitted while stopped: stays queued until workers start again.
	ticket, err := runner.Submit(ctx, "queued while stopped")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if runner.Queue.Len() != 1 {
		t.Fatalf("expected 1 queued run, got %d", runner.Queue.Len())
	}

	if err := runner.StartWorkers(ctx, 1); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer runner.Stop()
	if out := waitOutcome(t, ticket); out.Err != nil {
		t.Fatalf("run failed: %v", out.Err)
	}
}

func TestLocalRunner_SubmitHonorsCancelledContext(t *testing.T) {
	runner := NewLocalRunner(newRunnerEngine(t, NewMemoryTraceStore()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := runner.Submit(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.pending) != 0 {
		t.Fatalf("expected no pending tickets, got %d", len(runner.pending))
	}
}

// failingQueue fails every Dequeue, like a queue whose database was closed.
type failingQueue struct {
	dequeues atomic.Int64
}

func (q *failingQueue) Enqueue(ctx context.Context, task taskqueue.Task) error {
	return errors.New("queue closed")
}

func (q *failingQueue) Dequeue(ctx context.Context) (*taskqueue.Task, error) {
	q.dequeues.Add(1)
	return nil, errors.New("queue closed")
}

func (q *failingQueue) Len() int { return 0 }

// TestLocalRunner_BacksOffOnDequeueErrors verifies that a queue that keeps
// failing is polled at a bounded rate instead of in a tight loop.
func TestLocalRunner_BacksOffOnDequeueErrors(t *testing.T) {
	q := &failingQueue{}
	runner := NewLocalRunnerWithQueue(newRunnerEngine(t, NewMemoryTraceStore()), q)
	runner.retryDelay = 50 * time.Millisecond

	if err := runner.StartWorkers(context.Background(), 1); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	runner.Stop()

	n := q.dequeues.Load()
	if n < 1 {
		t.Fatalf("expected the worker to try the queue at least once")
	}
	// 300ms / 50ms gives about 6 attempts; allow scheduling slack.
	if n > 20 {
		t.Fatalf("worker polled a failing queue %d times in 300ms; expected a pause between attempts", n)
	}
}

// TestLocalRunner_StopDuringDequeueBackoff verifies Stop does not wait for
// the full retry pause.
func TestLocalRunner_StopDuringDequeueBackoff(t *testing.T) {
	runner := NewLocalRunnerWithQueue(newRunnerEngine(t, NewMemoryTraceStore()), &failingQueue{})
	runner.retryDelay = time.Hour

	if err := runner.StartWorkers(context.Background(), 2); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		runner.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop blocked while workers were backing off")
	}
}
