package api

import "time"

// RunStatus is derived from a run's trace when it is read back.
type RunStatus string

const (
	// RunCompleted means a terminal context version was recorded.
	RunCompleted RunStatus = "COMPLETED"

	// RunIncomplete means the run failed or was interrupted; its trace has
	// no terminal context version.
	RunIncomplete RunStatus = "INCOMPLETE"
)

// Run is the header record of one workflow execution.
type Run struct {
	ID          string
	StartedAt   time.Time
	WorkflowRef string
}

// ErrorInfo describes why a step attempt failed.
type ErrorInfo struct {
	Message string `json:"error"`
	Stack   string `json:"stack"`
}

// StepAttempt is the trace record of a single invocation of a step.
// Successful and failed attempts share this shape; Error is nil on success.
type StepAttempt struct {
	// ID is assigned by the trace store in insertion order.
	ID int64

	RunID string

	// AgentID identifies the step instance; all attempts of one step in one
	// run share it.
	AgentID  string
	StepName StepName

	Input    Context
	Output   any
	Duration time.Duration

	// Attempt is 1-based.
	Attempt   int
	Error     *ErrorInfo
	Timestamp time.Time
	Model     string
}

// Succeeded reports whether the attempt completed without error.
func (a *StepAttempt) Succeeded() bool {
	return a.Error == nil
}

// ContextVersion is an immutable snapshot of the run context taken at a
// step transition.
type ContextVersion struct {
	// ID is assigned by the trace store in insertion order.
	ID int64

	RunID string

	// Version starts at 1 and increases by one per snapshot.
	Version   int
	StepName  StepName
	Snapshot  Context
	Timestamp time.Time
}

// Terminal reports whether this is the final snapshot of a completed run.
func (v *ContextVersion) Terminal() bool {
	return v.StepName == TerminalStep
}

// StatusOf derives a run's status from its context versions.
func StatusOf(versions []ContextVersion) RunStatus {
	for i := range versions {
		if versions[i].Terminal() {
			return RunCompleted
		}
	}
	return RunIncomplete
}

// RunResult is returned by Engine.Run. When a run fails after it started,
// the result still carries the run ID and the context as it was when the
// run stopped.
type RunResult struct {
	RunID        string
	FinalContext Context
}
