package persistence

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/petrijr/synapse/pkg/api"
)

// SQLiteTraceStore is a TraceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// Timestamps are stored as Unix nanoseconds, durations as nanoseconds and
// payloads as JSON text.
type SQLiteTraceStore struct {
	db     *sql.DB
	ownsDB bool

	// SQLite has a single writer; serializing here avoids SQLITE_BUSY
	// when many runs share one database.
	writeMu sync.Mutex
}

// Ensure SQLiteTraceStore implements TraceStore.
var _ TraceStore = (*SQLiteTraceStore)(nil)

// NewSQLiteTraceStore initializes the required schema in the given
// database and returns a new SQLiteTraceStore.
func NewSQLiteTraceStore(ctx context.Context, db *sql.DB) (*SQLiteTraceStore, error) {
	s := &SQLiteTraceStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, api.NewPersistenceError("init schema", err)
	}
	return s, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		workflow_ref TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		node_name TEXT NOT NULL,
		input TEXT,
		output TEXT,
		duration_ns INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		error TEXT,
		ts INTEGER NOT NULL,
		model TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_run ON nodes (run_id, ts)`,
	`CREATE TABLE IF NOT EXISTS contexts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		node_name TEXT NOT NULL,
		snapshot TEXT,
		ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contexts_run ON contexts (run_id, version)`,
}

func (s *SQLiteTraceStore) initSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteTraceStore) StartRun(ctx context.Context, run api.Run) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, workflow_ref)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET started_at = excluded.started_at, workflow_ref = excluded.workflow_ref`,
		run.ID,
		run.StartedAt.UnixNano(),
		run.WorkflowRef,
	)
	return api.NewPersistenceError("start run", err)
}

func (s *SQLiteTraceStore) RecordStepAttempt(ctx context.Context, rec *api.StepAttempt) error {
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

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (run_id, agent_id, node_name, input, output, duration_ns, attempt, error, ts, model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
	)
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}
	rec.ID = id
	return nil
}

func (s *SQLiteTraceStore) RecordContextVersion(ctx context.Context, v *api.ContextVersion) error {
	snapshot, err := EncodeContext(v.Snapshot)
	if err != nil {
		return api.NewPersistenceError("record context version", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO contexts (run_id, version, node_name, snapshot, ts)
		VALUES (?, ?, ?, ?, ?)`,
		v.RunID,
		v.Version,
		string(v.StepName),
		snapshot,
		v.Timestamp.UnixNano(),
	)
	if err != nil {
		return api.NewPersistenceError("record context version", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return api.NewPersistenceError("record context version", err)
	}
	v.ID = id
	return nil
}

func (s *SQLiteTraceStore) ListRuns(ctx context.Context, limit int) ([]api.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, workflow_ref
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`,
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

func (s *SQLiteTraceStore) ListStepAttempts(ctx context.Context, runID string) ([]api.StepAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, agent_id, node_name, input, output, duration_ns, attempt, error, ts, model
		FROM nodes
		WHERE run_id = ?
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

func (s *SQLiteTraceStore) ListContextVersions(ctx context.Context, runID string) ([]api.ContextVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, version, node_name, snapshot, ts
		FROM contexts
		WHERE run_id = ?
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
func (s *SQLiteTraceStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return api.NewPersistenceError("close", s.db.Close())
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanStepAttempt reads the column order shared by the SQL backends.
func scanStepAttempt(row rowScanner) (api.StepAttempt, error) {
	var rec api.StepAttempt
	var stepName string
	var input, output, errInfo, model sql.NullString
	var durationNs, ts int64

	if err := row.Scan(&rec.ID, &rec.RunID, &rec.AgentID, &stepName, &input, &output, &durationNs, &rec.Attempt, &errInfo, &ts, &model); err != nil {
		return api.StepAttempt{}, err
	}

	in, err := DecodeContext(input.String)
	if err != nil {
		return api.StepAttempt{}, err
	}
	out, err := DecodeValue(output.String)
	if err != nil {
		return api.StepAttempt{}, err
	}
	info, err := DecodeErrorInfo(errInfo.String)
	if err != nil {
		return api.StepAttempt{}, err
	}

	rec.StepName = api.StepName(stepName)
	rec.Input = in
	rec.Output = out
	rec.Error = info
	rec.Duration = time.Duration(durationNs)
	rec.Timestamp = time.Unix(0, ts)
	rec.Model = model.String
	return rec, nil
}

func scanContextVersion(row rowScanner) (api.ContextVersion, error) {
	var v api.ContextVersion
	var stepName string
	var snapshot sql.NullString
	var ts int64

	if err := row.Scan(&v.ID, &v.RunID, &v.Version, &stepName, &snapshot, &ts); err != nil {
		return api.ContextVersion{}, err
	}
	snap, err := DecodeContext(snapshot.String)
	if err != nil {
		return api.ContextVersion{}, err
	}
	v.StepName = api.StepName(stepName)
	v.Snapshot = snap
	v.Timestamp = time.Unix(0, ts)
	return v, nil
}
