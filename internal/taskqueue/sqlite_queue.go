package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// SQLiteQueue is a durable Queue backed by SQLite. Requests survive a
// process restart and are handed out in insertion order.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration

	// serializes claim transactions so two workers never take the same row
	claimMu sync.Mutex
}

// NewSQLiteQueue creates the run_requests table if needed.
func NewSQLiteQueue(ctx context.Context, db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_requests (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			input TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL
		)`)
	if err != nil {
		return nil, err
	}
	return q, nil
}

var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	enqueuedAt := t.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO run_requests (request_id, input, enqueued_at) VALUES (?, ?, ?)`,
		t.ID, t.Input, enqueuedAt.UnixNano(),
	)
	return err
}

// Dequeue polls until a request is available or ctx is done.
func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		task, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// claim removes the oldest request in one transaction. It returns nil, nil
// when the queue is empty.
func (q *SQLiteQueue) claim(ctx context.Context) (*Task, error) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq        int64
		task       Task
		enqueuedAt int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT seq, request_id, input, enqueued_at FROM run_requests ORDER BY seq LIMIT 1`,
	).Scan(&seq, &task.ID, &task.Input, &enqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_requests WHERE seq = ?`, seq); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task.EnqueuedAt = time.Unix(0, enqueuedAt)
	return &task, nil
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM run_requests`).Scan(&n); err != nil {
		return 0
	}
	return n
}
