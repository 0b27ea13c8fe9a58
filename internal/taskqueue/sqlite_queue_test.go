package taskqueue

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})

	q, err := NewSQLiteQueue(context.Background(), db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	return q
}

func TestSQLiteQueue_EnqueueDequeueFIFO(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if err := q.Enqueue(ctx, Task{ID: id, Input: "in-" + id}); err != nil {
			t.Fatalf("Enqueue %s failed: %v", id, err)
		}
	}

	if q.Len() != 3 {
		t.Fatalf("expected Len 3, got %d", q.Len())
	}

	for _, want := range []string{"1", "2", "3"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got.ID != want || got.Input != "in-"+want {
			t.Fatalf("expected task %q, got %+v", want, got)
		}
		if got.EnqueuedAt.IsZero() {
			t.Fatalf("expected EnqueuedAt to be set")
		}
	}

	if q.Len() != 0 {
		t.Fatalf("expected Len 0 after dequeues, got %d", q.Len())
	}
}

func TestSQLiteQueue_DequeueBlocksUntilTaskArrives(t *testing.T) {
	q := newTestSQLiteQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resultCh := make(chan *Task, 1)
	errCh := make(chan error, 1)
	go func() {
		tk, err := q.Dequeue(ctx)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- tk
	}()

	time.Sleep(50 * time.Millisecond)
	if err := q.Enqueue(context.Background(), Task{ID: "late", Input: "x"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case err := <-errCh:
		t.Fatalf("Dequeue returned error: %v", err)
	case tk := <-resultCh:
		if tk.ID != "late" || tk.Input != "x" {
			t.Fatalf("unexpected task from Dequeue: %+v", tk)
		}
	case <-ctx.Done():
		t.Fatalf("timeout waiting for Dequeue to return")
	}
}

func TestSQLiteQueue_DequeueHonorsContextCancellation(t *testing.T) {
	q := newTestSQLiteQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatalf("expected Dequeue to fail due to context cancellation")
	}
}

func TestSQLiteQueue_ConcurrentDequeue_NoDuplicates(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := q.Enqueue(ctx, Task{ID: "only", Input: "x"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	results := make(chan *Task, 2)
	deq := func() {
		got, _ := q.Dequeue(ctx)
		results <- got
	}
	go deq()
	go deq()

	count := 0
	for i := 0; i < 2; i++ {
		if tsk := <-results; tsk != nil {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one task dequeued, got %d", count)
	}
}

func TestSQLiteQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	q, err := NewSQLiteQueue(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, Task{ID: "persisted", Input: "neural rendering"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	_ = db.Close()

	db2, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open (reopen) failed: %v", err)
	}
	defer db2.Close()
	q2, err := NewSQLiteQueue(ctx, db2)
	if err != nil {
		t.Fatalf("NewSQLiteQueue (reopen) failed: %v", err)
	}

	got, err := q2.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got.ID != "persisted" || got.Input != "neural rendering" {
		t.Fatalf("unexpected task after reopen: %+v", got)
	}
}
