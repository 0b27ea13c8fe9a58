package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/synapse/internal/persistence"
	"github.com/petrijr/synapse/pkg/api"
)

// mapResolver resolves implementation refs from a fixed map and falls back
// to a passthrough agent.
type mapResolver map[string]api.Agent

func (m mapResolver) Resolve(ref string) api.Agent {
	if a, ok := m[ref]; ok {
		return a
	}
	return api.AgentFunc(func(ctx context.Context, in api.Context) (any, error) {
		return in.LastOutput(), nil
	})
}

// constAgent always returns out.
func constAgent(out any) api.Agent {
	return api.AgentFunc(func(ctx context.Context, in api.Context) (any, error) {
		return out, nil
	})
}

// flakyAgent fails the first n calls, then returns out.
type flakyAgent struct {
	mu    sync.Mutex
	fails int
	calls int
	out   any
}

func (a *flakyAgent) Invoke(ctx context.Context, in api.Context) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.calls <= a.fails {
		return nil, fmt.Errorf("transient failure %d", a.calls)
	}
	return a.out, nil
}

var errAlwaysFails = errors.New("always fails")

func failingAgent() api.Agent {
	return api.AgentFunc(func(ctx context.Context, in api.Context) (any, error) {
		return nil, errAlwaysFails
	})
}

// sleepRecorder replaces the backoff sleep and remembers requested delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func mustGraph(t *testing.T, entry api.StepName, steps map[api.StepName]api.StepDefinition) *api.WorkflowGraph {
	t.Helper()
	g, err := api.NewWorkflowGraph("test.yaml", entry, steps)
	if err != nil {
		t.Fatalf("NewWorkflowGraph failed: %v", err)
	}
	return g
}

type engineOption func(*Config)

func withObserver(o api.Observer) engineOption {
	return func(c *Config) { c.Observer = o }
}

func withMaxSteps(n int) engineOption {
	return func(c *Config) { c.MaxSteps = n }
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) engineOption {
	return func(c *Config) { c.Sleep = fn }
}

func newTestEngine(t *testing.T, g *api.WorkflowGraph, store persistence.TraceWriter, agents mapResolver, opts ...engineOption) api.Engine {
	t.Helper()
	rec := &sleepRecorder{}
	cfg := Config{
		Graph:    g,
		Store:    store,
		Resolver: agents,
		Sleep:    rec.Sleep,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	eng, err := NewEngineWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewEngineWithConfig failed: %v", err)
	}
	return eng
}

// failingStore wraps a TraceStore and fails the selected operation.
type failingStore struct {
	persistence.TraceStore
	failOn string
}

var errStoreDown = errors.New("store unreachable")

func (s *failingStore) StartRun(ctx context.Context, run api.Run) error {
	if s.failOn == "start" {
		return errStoreDown
	}
	return s.TraceStore.StartRun(ctx, run)
}

func (s *failingStore) RecordStepAttempt(ctx context.Context, rec *api.StepAttempt) error {
	if s.failOn == "attempt" {
		return errStoreDown
	}
	return s.TraceStore.RecordStepAttempt(ctx, rec)
}

func (s *failingStore) RecordContextVersion(ctx context.Context, v *api.ContextVersion) error {
	if s.failOn == "version" {
		return errStoreDown
	}
	return s.TraceStore.RecordContextVersion(ctx, v)
}
