package synapse

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/petrijr/synapse/internal/agents"
	"github.com/petrijr/synapse/internal/engine"
	"github.com/petrijr/synapse/internal/persistence"
	"github.com/petrijr/synapse/internal/taskqueue"
	"github.com/petrijr/synapse/internal/workflow"
	"github.com/petrijr/synapse/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Agent                = api.Agent
	AgentFunc            = api.AgentFunc
	AgentResolver        = api.AgentResolver
	Context              = api.Context
	StepName             = api.StepName
	StepDefinition       = api.StepDefinition
	WorkflowGraph        = api.WorkflowGraph
	RetryPolicy          = api.RetryPolicy
	Run                  = api.Run
	RunResult            = api.RunResult
	RunStatus            = api.RunStatus
	StepAttempt          = api.StepAttempt
	ContextVersion       = api.ContextVersion
	ErrorInfo            = api.ErrorInfo
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	InvalidWorkflowError = api.InvalidWorkflowError
	UnknownStepError     = api.UnknownStepError
	StepExecutionError   = api.StepExecutionError
	PersistenceError     = api.PersistenceError

	// TraceStore records and reads back run traces.
	TraceStore = persistence.TraceStore
	// StoreConfig selects and configures a TraceStore backend.
	StoreConfig = persistence.Config

	// AgentRegistry maps implementation refs to agents.
	AgentRegistry = agents.Registry
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewWorkflowGraph     = api.NewWorkflowGraph
	StatusOf             = api.StatusOf
	ErrStepLimitExceeded = api.ErrStepLimitExceeded
)

const (
	RunCompleted  = api.RunCompleted
	RunIncomplete = api.RunIncomplete
	InputKey      = api.InputKey
	LastOutputKey = api.LastOutputKey
	TerminalStep  = api.TerminalStep
)

// EngineOption customises NewEngine.
type EngineOption func(*engine.Config)

// WithResolver sets how step implementation refs become agents. The
// default is a registry holding the builtin agents.
func WithResolver(r AgentResolver) EngineOption {
	return func(c *engine.Config) { c.Resolver = r }
}

// WithObserver attaches an observer to every run.
func WithObserver(obs Observer) EngineOption {
	return func(c *engine.Config) { c.Observer = obs }
}

// WithRetryPolicy replaces the default 1s/2s/3s backoff.
func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(c *engine.Config) { c.RetryPolicy = &p }
}

// WithMaxSteps bounds how many steps a single run may execute.
func WithMaxSteps(n int) EngineOption {
	return func(c *engine.Config) { c.MaxSteps = n }
}

// NewEngine returns an Engine executing graph and tracing into store.
func NewEngine(graph *WorkflowGraph, store TraceStore, opts ...EngineOption) (Engine, error) {
	cfg := engine.Config{
		Graph: graph,
		Store: store,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Resolver == nil {
		cfg.Resolver = agents.NewDefaultRegistry(slog.Default())
	}
	return engine.NewEngineWithConfig(cfg)
}

// NewAgentRegistry returns a registry preloaded with the builtin agents.
func NewAgentRegistry(logger *slog.Logger) *AgentRegistry {
	return agents.NewDefaultRegistry(logger)
}

// LoadWorkflow reads and validates a YAML workflow document.
func LoadWorkflow(path string) (*WorkflowGraph, error) {
	return workflow.Load(path)
}

// ParseWorkflow validates a YAML workflow document held in memory. ref is
// recorded on every run of the workflow.
func ParseWorkflow(ref string, data []byte) (*WorkflowGraph, error) {
	return workflow.Parse(ref, data)
}

// OpenTraceStore opens the backend selected by cfg.
func OpenTraceStore(ctx context.Context, cfg StoreConfig) (TraceStore, error) {
	return persistence.Open(ctx, cfg)
}

// NewMemoryTraceStore returns a non-durable store, mostly useful in tests.
func NewMemoryTraceStore() TraceStore {
	return persistence.NewMemoryTraceStore()
}

// NewSQLiteTraceStore creates the trace tables in db if needed. The caller
// keeps ownership of db.
func NewSQLiteTraceStore(ctx context.Context, db *sql.DB) (TraceStore, error) {
	return persistence.NewSQLiteTraceStore(ctx, db)
}

// NewInMemoryQueue returns a run-request queue for LocalRunner or a Worker.
func NewInMemoryQueue(capacity int) *taskqueue.InMemoryQueue {
	return taskqueue.NewInMemoryQueue(capacity)
}
