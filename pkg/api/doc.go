// Package api contains the core types of the synapse workflow engine. It
// defines what a workflow is, what a run records, and how engines report
// what they do.
//
// Most users interact with the top-level synapse package, which re-exports
// the types from this package together with constructors for engines and
// trace stores. The api package is intended for custom integrations and for
// code that implements agents, observers or stores.
//
// # Workflow Graphs
//
// A WorkflowGraph is a validated chain of StepDefinitions with one entry
// step. Each step names the agent that implements it, a model label that
// is recorded in the trace, its retry budget and its successor. An empty
// successor ends the run.
//
// Graphs are immutable once NewWorkflowGraph returns and may be shared by
// concurrent runs. Construction rejects dangling successors, cycles and the
// reserved step name TerminalStep.
//
// # Agents and Context
//
// An Agent receives a private copy of the run Context and returns an
// output. The engine merges the output back: it is always stored under
// LastOutputKey, and map outputs have their keys copied into the context as
// well. Agents never mutate the context the engine owns.
//
// # Traces
//
// Every run produces a Run header, one StepAttempt per agent invocation
// (successful or not) and one ContextVersion per context change, starting
// with the input. StatusOf derives COMPLETED or INCOMPLETE from the recorded
// versions.
//
// # Errors
//
// Failures are reported with typed errors so callers can branch with
// errors.As: InvalidWorkflowError for bad documents, StepExecutionError when
// a step exhausts its retries, UnknownStepError for a graph that names a
// missing step and PersistenceError when a trace store fails.
//
// # Observability
//
// Engines report lifecycle events to an Observer. LoggingObserver and
// BasicMetrics are provided here; CompositeObserver fans events out to
// several observers.
package api
