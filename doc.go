// Package synapse is an embeddable engine for traced, multi-step agent
// workflows.
//
// A workflow is a chain of steps. Each step names an agent implementation,
// a model label and a retry budget, and points at the step that follows
// it. The engine walks the chain one step at a time, threading a Context
// through it, and records everything it does in a TraceStore so that a run
// can be inspected or replayed after the fact.
//
// # Core Concepts
//
//  1. WorkflowGraph
//  2. Agent
//  3. Engine
//  4. TraceStore
//  5. LocalRunner
//
// # WorkflowGraph
//
// Graphs are loaded from YAML with LoadWorkflow, or built in code:
//
//	graph, err := synapse.New("research").
//	    Step("search", "builtin_research", synapse.Retries(2)).
//	    Step("summarize", "builtin_summarize").
//	    Build()
//
// Graphs are validated once and are immutable afterwards. Cycles, unknown
// successors and the reserved step name "end" are rejected.
//
// # Agent
//
// An Agent receives a private copy of the run Context and returns an
// output. Map outputs are merged into the Context; every output is also
// stored under "last_output". Returning an error asks for a retry.
// Agents are looked up by implementation ref through an AgentResolver;
// NewAgentRegistry returns one that knows the builtin agents.
//
// # Engine
//
// Engine.Run executes the graph synchronously. Before each step and after
// the last one it records a ContextVersion; every attempt of every step is
// recorded as a StepAttempt, whether it succeeded or failed. Failed
// attempts are retried with a linear backoff (1s, 2s, 3s, 3s, ...) until
// the step's retry budget is used up, at which point the run stops with a
// StepExecutionError. A failing trace store stops the run with a
// PersistenceError.
//
// # TraceStore
//
// Traces can be kept in memory, SQLite (the default), PostgreSQL, Redis or
// MongoDB. OpenTraceStore selects the backend from a StoreConfig.
//
// # LocalRunner
//
// LocalRunner executes many runs of one Engine concurrently on worker
// goroutines fed by an in-memory queue. For requests that must survive a
// restart, NewSQLiteBundle pairs the engine with a SQLite-backed queue.
package synapse
