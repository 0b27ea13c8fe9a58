package api

import "context"

// Engine executes a workflow graph and records its trace.
type Engine interface {
	// Run executes the workflow synchronously from its entry step with the
	// given input and returns the final context.
	//
	// Errors:
	//   - *StepExecutionError when a step exhausts its retries
	//   - *UnknownStepError when the graph references a missing step
	//   - *PersistenceError when the trace cannot be written
	//
	// On error the run's partial trace remains queryable.
	Run(ctx context.Context, input string) (*RunResult, error)

	// Graph returns the workflow the engine executes.
	Graph() *WorkflowGraph
}
