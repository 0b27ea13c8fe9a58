package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petrijr/synapse/pkg/api"
)

func newTestSQLiteStore(t *testing.T) *SQLiteTraceStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	// Every connection to ":memory:" gets its own database.
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewSQLiteTraceStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewSQLiteTraceStore failed: %v", err)
	}

	return store
}

func TestSQLiteTraceStore_Conformance(t *testing.T) {
	runTraceStoreConformance(t, func(t *testing.T) TraceStore {
		return newTestSQLiteStore(t)
	})
}

func TestSQLiteTraceStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "traces.db")

	store, err := Open(ctx, Config{Backend: BackendSQLite, Path: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ts := time.Unix(1_700_000_000, 0)
	if err := store.StartRun(ctx, api.Run{ID: "persisted", StartedAt: ts, WorkflowRef: "wf.yaml"}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := store.RecordContextVersion(ctx, &api.ContextVersion{
		RunID:     "persisted",
		Version:   0,
		StepName:  api.TerminalStep,
		Snapshot:  api.Context{"input": "hi"},
		Timestamp: ts,
	}); err != nil {
		t.Fatalf("RecordContextVersion failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(ctx, Config{Backend: BackendSQLite, Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	runs, err := reopened.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "persisted" {
		t.Fatalf("expected persisted run, got %+v", runs)
	}
	versions, err := reopened.ListContextVersions(ctx, "persisted")
	if err != nil {
		t.Fatalf("ListContextVersions failed: %v", err)
	}
	if len(versions) != 1 || versions[0].Snapshot.Input() != "hi" {
		t.Fatalf("unexpected versions: %+v", versions)
	}
}

func TestSQLiteTraceStore_ClosedDatabase(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteTraceStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewSQLiteTraceStore failed: %v", err)
	}
	_ = db.Close()

	err = store.StartRun(context.Background(), api.Run{ID: "x", StartedAt: time.Now()})
	requirePersistenceError(t, err)

	_, err = store.ListRuns(context.Background(), 5)
	requirePersistenceError(t, err)
}

func TestSQLiteTraceStore_CorruptSnapshot(t *testing.T) {
	store := newTestSQLiteStore(t)
	_, err := store.db.Exec(`INSERT INTO contexts (run_id, version, node_name, snapshot, ts) VALUES ('r', 0, 'A', '[1,2]', 0)`)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	_, err = store.ListContextVersions(context.Background(), "r")
	requirePersistenceError(t, err)
}

func TestSQLiteTraceStore_NullSnapshotDecodesEmpty(t *testing.T) {
	store := newTestSQLiteStore(t)
	_, err := store.db.Exec(`INSERT INTO contexts (run_id, version, node_name, snapshot, ts) VALUES ('r', 0, 'A', NULL, 0)`)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	versions, err := store.ListContextVersions(context.Background(), "r")
	if err != nil {
		t.Fatalf("ListContextVersions failed: %v", err)
	}
	if len(versions) != 1 || len(versions[0].Snapshot) != 0 {
		t.Fatalf("expected one empty snapshot, got %+v", versions)
	}
}
