package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/synapse/internal/persistence"
	"github.com/petrijr/synapse/pkg/api"
)

// DefaultMaxSteps bounds the number of steps a single run may execute.
const DefaultMaxSteps = 1000

// stepGraph is the part of a workflow graph execute walks.
type stepGraph interface {
	EntryStep() api.StepName
	Lookup(name api.StepName) (api.StepDefinition, error)
}

// engineImpl is a synchronous, in-process engine. Runs are independent and
// may execute concurrently; each run executes one step at a time.
type engineImpl struct {
	graph    *api.WorkflowGraph
	steps    stepGraph
	store    persistence.TraceWriter
	agents   *agentCache
	observer api.Observer
	policy   api.RetryPolicy
	maxSteps int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// Config describes how to construct an engine.
type Config struct {
	Graph    *api.WorkflowGraph
	Store    persistence.TraceWriter
	Resolver api.AgentResolver
	Observer api.Observer

	// RetryPolicy defaults to api.DefaultRetryPolicy when nil.
	RetryPolicy *api.RetryPolicy

	// MaxSteps defaults to DefaultMaxSteps when <= 0.
	MaxSteps int

	// Clock, Sleep and NewRunID replace time.Now, the backoff sleep and
	// uuid generation. Tests use them to run without real delays.
	Clock    func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
	NewRunID func() string
}

var (
	errNoGraph    = errors.New("engine: workflow graph is required")
	errNoStore    = errors.New("engine: trace store is required")
	errNoResolver = errors.New("engine: agent resolver is required")
)

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) (api.Engine, error) {
	switch {
	case cfg.Graph == nil:
		return nil, errNoGraph
	case cfg.Store == nil:
		return nil, errNoStore
	case cfg.Resolver == nil:
		return nil, errNoResolver
	}

	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	policy := api.DefaultRetryPolicy()
	if cfg.RetryPolicy != nil {
		policy = *cfg.RetryPolicy
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	newID := cfg.NewRunID
	if newID == nil {
		newID = uuid.NewString
	}

	return &engineImpl{
		graph:    cfg.Graph,
		steps:    cfg.Graph,
		store:    cfg.Store,
		agents:   newAgentCache(cfg.Resolver),
		observer: obs,
		policy:   policy,
		maxSteps: maxSteps,
		now:      now,
		sleep:    sleep,
		newID:    newID,
	}, nil
}

func (e *engineImpl) Graph() *api.WorkflowGraph {
	return e.graph
}

func (e *engineImpl) Run(ctx context.Context, input string) (*api.RunResult, error) {
	run := &api.Run{
		ID:          e.newID(),
		StartedAt:   e.now(),
		WorkflowRef: e.graph.Ref(),
	}

	if err := e.store.StartRun(ctx, *run); err != nil {
		return nil, api.NewPersistenceError("start run", err)
	}
	e.observer.OnRunStart(ctx, run)

	rc, err := e.execute(ctx, run, input)
	result := &api.RunResult{RunID: run.ID, FinalContext: rc}
	if err != nil {
		e.observer.OnRunFailed(ctx, run, err)
		return result, err
	}

	e.observer.OnRunCompleted(ctx, run, rc)
	return result, nil
}

// execute walks the chain from the entry step. The returned context is the
// engine's own; it is only handed out after the run is over.
func (e *engineImpl) execute(ctx context.Context, run *api.Run, input string) (api.Context, error) {
	rc := api.NewContext(input)
	version := 0
	executed := 0

	runners := newRunnerSet(func(def api.StepDefinition) *stepRunner {
		return &stepRunner{
			def:      def,
			agent:    e.agents.Get(def.Impl),
			agentID:  uuid.NewString(),
			store:    e.store,
			observer: e.observer,
			policy:   e.policy,
			now:      e.now,
			sleep:    e.sleep,
		}
	})

	for current := e.steps.EntryStep(); current != ""; {
		if executed >= e.maxSteps {
			return rc, &api.StepExecutionError{RunID: run.ID, Step: current, Err: api.ErrStepLimitExceeded}
		}
		executed++

		version++
		if err := e.recordVersion(ctx, run.ID, version, current, rc); err != nil {
			return rc, err
		}

		def, err := e.steps.Lookup(current)
		if err != nil {
			return rc, err
		}

		e.observer.OnStepStart(ctx, run, current)
		outcome, err := runners.Get(def).invoke(ctx, run, rc)
		if err != nil {
			return rc, err
		}
		if !outcome.succeeded() {
			return rc, &api.StepExecutionError{
				RunID:    run.ID,
				Step:     current,
				Attempts: outcome.Attempts,
				Err:      outcome.Err,
			}
		}

		rc.Merge(outcome.Output)
		current = def.Next
	}

	version++
	if err := e.recordVersion(ctx, run.ID, version, api.TerminalStep, rc); err != nil {
		return rc, err
	}
	return rc, nil
}

func (e *engineImpl) recordVersion(ctx context.Context, runID string, version int, step api.StepName, rc api.Context) error {
	v := &api.ContextVersion{
		RunID:     runID,
		Version:   version,
		StepName:  step,
		Snapshot:  rc.Clone(),
		Timestamp: e.now(),
	}
	return api.NewPersistenceError("record context version", e.store.RecordContextVersion(ctx, v))
}
