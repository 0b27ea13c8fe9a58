package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/petrijr/synapse/pkg/api"
)

// MemoryTraceStore is a goroutine-safe TraceStore backed by maps.
//
// Values are passed through the JSON codec on write so that readers see
// exactly what a durable backend would return.
type MemoryTraceStore struct {
	mu sync.RWMutex

	runs     map[string]memoryRun
	runSeq   int64
	attempts map[string][]api.StepAttempt
	versions map[string][]api.ContextVersion
	nextID   int64
}

type memoryRun struct {
	run api.Run
	seq int64
}

// NewMemoryTraceStore creates an empty MemoryTraceStore.
func NewMemoryTraceStore() *MemoryTraceStore {
	return &MemoryTraceStore{
		runs:     make(map[string]memoryRun),
		attempts: make(map[string][]api.StepAttempt),
		versions: make(map[string][]api.ContextVersion),
	}
}

var _ TraceStore = (*MemoryTraceStore)(nil)

func (s *MemoryTraceStore) StartRun(ctx context.Context, run api.Run) error {
	if err := ctx.Err(); err != nil {
		return api.NewPersistenceError("start run", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runSeq++
	s.runs[run.ID] = memoryRun{run: run, seq: s.runSeq}
	return nil
}

func (s *MemoryTraceStore) RecordStepAttempt(ctx context.Context, rec *api.StepAttempt) error {
	if err := ctx.Err(); err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}

	input, err := roundTripContext(rec.Input)
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}
	output, err := roundTrip(rec.Output)
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}

	stored := *rec
	stored.Input = input
	stored.Output = output
	if rec.Error != nil {
		info := *rec.Error
		stored.Error = &info
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored.ID = s.nextID
	rec.ID = stored.ID
	s.attempts[rec.RunID] = append(s.attempts[rec.RunID], stored)
	return nil
}

func (s *MemoryTraceStore) RecordContextVersion(ctx context.Context, v *api.ContextVersion) error {
	if err := ctx.Err(); err != nil {
		return api.NewPersistenceError("record context version", err)
	}

	snapshot, err := roundTripContext(v.Snapshot)
	if err != nil {
		return api.NewPersistenceError("record context version", err)
	}

	stored := *v
	stored.Snapshot = snapshot

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored.ID = s.nextID
	v.ID = stored.ID
	s.versions[v.RunID] = append(s.versions[v.RunID], stored)
	return nil
}

func (s *MemoryTraceStore) ListRuns(ctx context.Context, limit int) ([]api.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, api.NewPersistenceError("list runs", err)
	}
	limit = normalizeLimit(limit)

	s.mu.RLock()
	all := make([]memoryRun, 0, len(s.runs))
	for _, r := range s.runs {
		all = append(all, r)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.run.StartedAt.Equal(b.run.StartedAt) {
			return a.run.StartedAt.After(b.run.StartedAt)
		}
		return a.seq > b.seq
	})

	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]api.Run, len(all))
	for i, r := range all {
		out[i] = r.run
	}
	return out, nil
}

func (s *MemoryTraceStore) ListStepAttempts(ctx context.Context, runID string) ([]api.StepAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, api.NewPersistenceError("list step attempts", err)
	}

	s.mu.RLock()
	src := s.attempts[runID]
	out := make([]api.StepAttempt, len(src))
	for i, a := range src {
		a.Input = a.Input.Clone()
		a.Output = api.CloneValue(a.Output)
		out[i] = a
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryTraceStore) ListContextVersions(ctx context.Context, runID string) ([]api.ContextVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, api.NewPersistenceError("list context versions", err)
	}

	s.mu.RLock()
	src := s.versions[runID]
	out := make([]api.ContextVersion, len(src))
	for i, v := range src {
		v.Snapshot = v.Snapshot.Clone()
		out[i] = v
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryTraceStore) Close() error {
	return nil
}
