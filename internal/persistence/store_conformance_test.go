package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/synapse/pkg/api"
)

// runTraceStoreConformance exercises the behaviour every TraceStore must
// share. newStore must return an empty store.
func runTraceStoreConformance(t *testing.T, newStore func(t *testing.T) TraceStore) {
	t.Run("RoundTrip", func(t *testing.T) {
		testTraceStoreRoundTrip(t, newStore(t))
	})
	t.Run("ListRunsOrderAndLimit", func(t *testing.T) {
		testTraceStoreListRuns(t, newStore(t))
	})
	t.Run("ListRunsSubMicrosecondLimit", func(t *testing.T) {
		testTraceStoreListRunsSubMicrosecond(t, newStore(t))
	})
	t.Run("StartRunOverwrites", func(t *testing.T) {
		testTraceStoreStartRunOverwrites(t, newStore(t))
	})
	t.Run("UnknownRunIsEmpty", func(t *testing.T) {
		testTraceStoreUnknownRun(t, newStore(t))
	})
	t.Run("AttemptOrdering", func(t *testing.T) {
		testTraceStoreAttemptOrdering(t, newStore(t))
	})
	t.Run("ConcurrentRuns", func(t *testing.T) {
		testTraceStoreConcurrentRuns(t, newStore(t))
	})
}

func testTraceStoreRoundTrip(t *testing.T, store TraceStore) {
	ctx := context.Background()
	ts := time.Unix(1_700_000_000, 123_456_000)

	run := api.Run{ID: "run-1", StartedAt: ts, WorkflowRef: "workflows/research.yaml"}
	require.NoError(t, store.StartRun(ctx, run))

	ok := &api.StepAttempt{
		RunID:     run.ID,
		AgentID:   "agent-a",
		StepName:  "A",
		Input:     api.Context{"input": "hello"},
		Output:    map[string]any{"x": 1, "papers": []any{"p1", "p2"}},
		Duration:  1500 * time.Millisecond,
		Attempt:   0,
		Timestamp: ts.Add(time.Second),
		Model:     "mock",
	}
	require.NoError(t, store.RecordStepAttempt(ctx, ok))
	assert.NotZero(t, ok.ID)

	failed := &api.StepAttempt{
		RunID:     run.ID,
		AgentID:   "agent-b",
		StepName:  "B",
		Input:     api.Context{"input": "hello", "x": 1},
		Duration:  2 * time.Millisecond,
		Attempt:   1,
		Error:     &api.ErrorInfo{Message: "boom", Stack: "goroutine 1 [running]"},
		Timestamp: ts.Add(2 * time.Second),
		Model:     "gpt",
	}
	require.NoError(t, store.RecordStepAttempt(ctx, failed))
	assert.NotEqual(t, ok.ID, failed.ID)

	v0 := &api.ContextVersion{
		RunID:     run.ID,
		Version:   0,
		StepName:  "A",
		Snapshot:  api.Context{"input": "hello"},
		Timestamp: ts,
	}
	v1 := &api.ContextVersion{
		RunID:     run.ID,
		Version:   1,
		StepName:  api.TerminalStep,
		Snapshot:  api.Context{"input": "hello", "x": 1, "last_output": map[string]any{"x": 1}},
		Timestamp: ts.Add(3 * time.Second),
	}
	// Write out of order; readers sort by version.
	require.NoError(t, store.RecordContextVersion(ctx, v1))
	require.NoError(t, store.RecordContextVersion(ctx, v0))

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, run.WorkflowRef, runs[0].WorkflowRef)
	assert.True(t, runs[0].StartedAt.Equal(ts), "started_at %v != %v", runs[0].StartedAt, ts)

	attempts, err := store.ListStepAttempts(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	got := attempts[0]
	assert.Equal(t, ok.ID, got.ID)
	assert.Equal(t, api.StepName("A"), got.StepName)
	assert.Equal(t, "agent-a", got.AgentID)
	assert.Equal(t, api.Context{"input": "hello"}, got.Input)
	assert.Equal(t, map[string]any{"x": int64(1), "papers": []any{"p1", "p2"}}, got.Output)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.Equal(t, "mock", got.Model)
	assert.Nil(t, got.Error)
	assert.True(t, got.Succeeded())
	assert.True(t, got.Timestamp.Equal(ok.Timestamp))

	got = attempts[1]
	assert.Equal(t, 1, got.Attempt)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", got.Error.Message)
	assert.Equal(t, "goroutine 1 [running]", got.Error.Stack)
	assert.Equal(t, map[string]any{}, got.Output)
	assert.Equal(t, api.Context{"input": "hello", "x": int64(1)}, got.Input)
	assert.False(t, got.Succeeded())

	versions, err := store.ListContextVersions(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 0, versions[0].Version)
	assert.Equal(t, api.StepName("A"), versions[0].StepName)
	assert.Equal(t, api.Context{"input": "hello"}, versions[0].Snapshot)
	assert.Equal(t, 1, versions[1].Version)
	assert.True(t, versions[1].Terminal())
	assert.Equal(t, int64(1), versions[1].Snapshot["x"])
}

func testTraceStoreListRuns(t *testing.T, store TraceStore) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		run := api.Run{
			ID:          fmt.Sprintf("run-%d", i),
			StartedAt:   base.Add(time.Duration(i) * time.Second),
			WorkflowRef: "wf.yaml",
		}
		require.NoError(t, store.StartRun(ctx, run))
	}
	// Same start time as run-4; inserted later, so listed first.
	require.NoError(t, store.StartRun(ctx, api.Run{ID: "run-tie", StartedAt: base.Add(4 * time.Second), WorkflowRef: "wf.yaml"}))

	runs, err := store.ListRuns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-tie", runs[0].ID)
	assert.Equal(t, "run-4", runs[1].ID)
	assert.Equal(t, "run-3", runs[2].ID)

	runs, err = store.ListRuns(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, runs, 6)
}

// Runs started within the same microsecond must still be cut by start time
// and then insertion order, not by ID.
func testTraceStoreListRunsSubMicrosecond(t *testing.T, store TraceStore) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, store.StartRun(ctx, api.Run{ID: "zzz-older", StartedAt: base.Add(100 * time.Nanosecond), WorkflowRef: "wf.yaml"}))
	require.NoError(t, store.StartRun(ctx, api.Run{ID: "aaa-newer", StartedAt: base.Add(200 * time.Nanosecond), WorkflowRef: "wf.yaml"}))

	runs, err := store.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "aaa-newer", runs[0].ID)

	// Identical start times fall back to insertion order.
	same := base.Add(time.Second)
	require.NoError(t, store.StartRun(ctx, api.Run{ID: "zzz-first", StartedAt: same, WorkflowRef: "wf.yaml"}))
	require.NoError(t, store.StartRun(ctx, api.Run{ID: "aaa-second", StartedAt: same, WorkflowRef: "wf.yaml"}))

	runs, err = store.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "aaa-second", runs[0].ID)

	runs, err = store.ListRuns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"aaa-second", "zzz-first", "aaa-newer"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})
}

func testTraceStoreStartRunOverwrites(t *testing.T, store TraceStore) {
	ctx := context.Background()
	ts := time.Unix(1_700_000_000, 0)

	require.NoError(t, store.StartRun(ctx, api.Run{ID: "same", StartedAt: ts, WorkflowRef: "old.yaml"}))
	require.NoError(t, store.StartRun(ctx, api.Run{ID: "same", StartedAt: ts.Add(time.Minute), WorkflowRef: "new.yaml"}))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new.yaml", runs[0].WorkflowRef)
	assert.True(t, runs[0].StartedAt.Equal(ts.Add(time.Minute)))
}

func testTraceStoreUnknownRun(t *testing.T, store TraceStore) {
	ctx := context.Background()

	attempts, err := store.ListStepAttempts(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.NotNil(t, attempts)
	assert.Empty(t, attempts)

	versions, err := store.ListContextVersions(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.NotNil(t, versions)
	assert.Empty(t, versions)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func testTraceStoreAttemptOrdering(t *testing.T, store TraceStore) {
	ctx := context.Background()
	ts := time.Unix(1_700_000_000, 0)
	require.NoError(t, store.StartRun(ctx, api.Run{ID: "ord", StartedAt: ts, WorkflowRef: "wf"}))

	// Two attempts share a timestamp; insertion order breaks the tie.
	recs := []*api.StepAttempt{
		{RunID: "ord", AgentID: "a", StepName: "late", Attempt: 0, Timestamp: ts.Add(2 * time.Second)},
		{RunID: "ord", AgentID: "a", StepName: "tie-1", Attempt: 0, Timestamp: ts.Add(time.Second)},
		{RunID: "ord", AgentID: "a", StepName: "tie-2", Attempt: 0, Timestamp: ts.Add(time.Second)},
	}
	for _, r := range recs {
		require.NoError(t, store.RecordStepAttempt(ctx, r))
	}

	got, err := store.ListStepAttempts(ctx, "ord")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, api.StepName("tie-1"), got[0].StepName)
	assert.Equal(t, api.StepName("tie-2"), got[1].StepName)
	assert.Equal(t, api.StepName("late"), got[2].StepName)
}

func testTraceStoreConcurrentRuns(t *testing.T, store TraceStore) {
	ctx := context.Background()
	ts := time.Unix(1_700_000_000, 0)

	const runs = 8
	const steps = 5

	var wg sync.WaitGroup
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runID := fmt.Sprintf("c-%d", i)
			if err := store.StartRun(ctx, api.Run{ID: runID, StartedAt: ts, WorkflowRef: "wf"}); err != nil {
				errs <- err
				return
			}
			for s := 0; s < steps; s++ {
				rec := &api.StepAttempt{
					RunID:     runID,
					AgentID:   "agent",
					StepName:  api.StepName(fmt.Sprintf("s%d", s)),
					Input:     api.Context{"input": runID},
					Output:    runID,
					Timestamp: ts.Add(time.Duration(s) * time.Millisecond),
				}
				if err := store.RecordStepAttempt(ctx, rec); err != nil {
					errs <- err
					return
				}
				v := &api.ContextVersion{
					RunID:     runID,
					Version:   s,
					StepName:  rec.StepName,
					Snapshot:  api.Context{"input": runID},
					Timestamp: rec.Timestamp,
				}
				if err := store.RecordContextVersion(ctx, v); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent write failed: %v", err)
	}

	for i := 0; i < runs; i++ {
		runID := fmt.Sprintf("c-%d", i)
		attempts, err := store.ListStepAttempts(ctx, runID)
		require.NoError(t, err)
		require.Len(t, attempts, steps)
		for s, a := range attempts {
			assert.Equal(t, runID, a.RunID)
			assert.Equal(t, runID, a.Output)
			assert.Equal(t, api.StepName(fmt.Sprintf("s%d", s)), a.StepName)
		}

		versions, err := store.ListContextVersions(ctx, runID)
		require.NoError(t, err)
		require.Len(t, versions, steps)
		for s, v := range versions {
			assert.Equal(t, s, v.Version)
			assert.Equal(t, runID, v.Snapshot.Input())
		}
	}
}

func requirePersistenceError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var perr *api.PersistenceError
	require.True(t, errors.As(err, &perr), "expected *api.PersistenceError, got %T: %v", err, err)
}
