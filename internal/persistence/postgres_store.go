package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/synapse/pkg/api"
)

// PostgresTraceStore is a TraceStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
//
// Open does both when the "postgres" backend is selected.
type PostgresTraceStore struct {
	db     *sql.DB
	ownsDB bool
}

// Ensure PostgresTraceStore implements TraceStore.
var _ TraceStore = (*PostgresTraceStore)(nil)

// NewPostgresTraceStore initializes the required schema in the given
// database and returns a new PostgresTraceStore.
func NewPostgresTraceStore(ctx context.Context, db *sql.DB) (*PostgresTraceStore, error) {
	s := &PostgresTraceStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, api.NewPersistenceError("init schema", err)
	}
	return s, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seq BIGSERIAL,
		started_at BIGINT NOT NULL,
		workflow_ref TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS nodes (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		node_name TEXT NOT NULL,
		input TEXT,
		output TEXT,
		duration_ns BIGINT NOT NULL,
		attempt INTEGER NOT NULL,
		error TEXT,
		ts BIGINT NOT NULL,
		model TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_run ON nodes (run_id, ts)`,
	`CREATE TABLE IF NOT EXISTS contexts (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		node_name TEXT NOT NULL,
		snapshot TEXT,
		ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contexts_run ON contexts (run_id, version)`,
}

func (s *PostgresTraceStore) initSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresTraceStore) StartRun(ctx context.Context, run api.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, workflow_ref)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET started_at = EXCLUDED.started_at, workflow_ref = EXCLUDED.workflow_ref`,
		run.ID,
		run.StartedAt.UnixNano(),
		run.WorkflowRef,
	)
	return api.NewPersistenceError("start run", err)
}

func (s *PostgresTraceStore) RecordStepAttempt(ctx context.Context, rec *api.StepAttempt) error {
	input, err := EncodeContext(rec.Input)
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}
	output, err := EncodeValue(rec.Output)
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}
	errInfo, err := EncodeErrorInfo(rec.Error)
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO nodes (run_id, agent_id, node_name, input, output, duration_ns, attempt, error, ts, model)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		rec.RunID,
		rec.AgentID,
		string(rec.StepName),
		input,
		output,
		rec.Duration.Nanoseconds(),
		rec.Attempt,
		errInfo,
		rec.Timestamp.UnixNano(),
		rec.Model,
	).Scan(&id)
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}
	rec.ID = id
	return nil
}

func (s *PostgresTraceStore) RecordContextVersion(ctx context.Context, v *api.ContextVersion) error {
	snapshot, err := EncodeContext(v.Snapshot)
	if err != nil {
		return api.NewPersistenceError("record context version", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO contexts (run_id, version, node_name, snapshot, ts)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		v.RunID,
		v.Version,
		string(v.StepName),
		snapshot,
		v.Timestamp.UnixNano(),
	).Scan(&id)
	if err != nil {
		return api.NewPersistenceError("record context version", err)
	}
	v.ID = id
	return nil
}

func (s *PostgresTraceStore) ListRuns(ctx context.Context, limit int) ([]api.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, workflow_ref
		FROM runs
		ORDER BY started_at DESC, seq DESC
		LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, api.NewPersistenceError("list runs", err)
	}
	defer rows.Close()

	runs := []api.Run{}
	for rows.Next() {
		var r api.Run
		var startedAt int64
		if err := rows.Scan(&r.ID, &startedAt, &r.WorkflowRef); err != nil {
			return nil, api.NewPersistenceError("list runs", err)
		}
		r.StartedAt = time.Unix(0, startedAt)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, api.NewPersistenceError("list runs", err)
	}
	return runs, nil
}

func (s *PostgresTraceStore) ListStepAttempts(ctx context.Context, runID string) ([]api.StepAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, agent_id, node_name, input, output, duration_ns, attempt, error, ts, model
		FROM nodes
		WHERE run_id = $1
		ORDER BY ts ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, api.NewPersistenceError("list step attempts", err)
	}
	defer rows.Close()

	out := []api.StepAttempt{}
	for rows.Next() {
		rec, err := scanStepAttempt(rows)
		if err != nil {
			return nil, api.NewPersistenceError("list step attempts", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, api.NewPersistenceError("list step attempts", err)
	}
	return out, nil
}

func (s *PostgresTraceStore) ListContextVersions(ctx context.Context, runID string) ([]api.ContextVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, version, node_name, snapshot, ts
		FROM contexts
		WHERE run_id = $1
		ORDER BY version ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, api.NewPersistenceError("list context versions", err)
	}
	defer rows.Close()

	out := []api.ContextVersion{}
	for rows.Next() {
		v, err := scanContextVersion(rows)
		if err != nil {
			return nil, api.NewPersistenceError("list context versions", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, api.NewPersistenceError("list context versions", err)
	}
	return out, nil
}

// Close closes the underlying database if the store opened it.
func (s *PostgresTraceStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return api.NewPersistenceError("close", s.db.Close())
}
