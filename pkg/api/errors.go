package api

import (
	"errors"
	"fmt"
)

// ErrStepLimitExceeded is wrapped by a StepExecutionError when a run
// executes more steps than the engine allows.
var ErrStepLimitExceeded = errors.New("step limit exceeded")

// InvalidWorkflowError reports a malformed or inconsistent workflow
// definition. A run is never started for such a workflow.
type InvalidWorkflowError struct {
	Ref    string
	Reason string
}

func (e *InvalidWorkflowError) Error() string {
	if e.Ref == "" {
		return "invalid workflow: " + e.Reason
	}
	return fmt.Sprintf("invalid workflow %s: %s", e.Ref, e.Reason)
}

// UnknownStepError is returned when the engine follows a step reference
// that is not part of the graph.
type UnknownStepError struct {
	Step StepName
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("unknown step: %q", string(e.Step))
}

// StepAttemptError is the failure of a single step invocation. It is
// recorded in the trace and retried; it only escapes wrapped in a
// StepExecutionError.
type StepAttemptError struct {
	Step    StepName
	Attempt int
	Err     error
}

func (e *StepAttemptError) Error() string {
	return fmt.Sprintf("step %q attempt %d: %v", string(e.Step), e.Attempt, e.Err)
}

func (e *StepAttemptError) Unwrap() error {
	return e.Err
}

// StepExecutionError ends a run whose step failed on every allowed attempt.
// The trace keeps every failed attempt.
type StepExecutionError struct {
	RunID    string
	Step     StepName
	Attempts int
	Err      error
}

func (e *StepExecutionError) Error() string {
	cause := e.Err
	var ae *StepAttemptError
	if errors.As(cause, &ae) {
		cause = ae.Err
	}
	return fmt.Sprintf("step %q failed after %d attempt(s): %v", string(e.Step), e.Attempts, cause)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// PersistenceError reports that the trace store could not be reached or
// rejected a write. It is fatal for the run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("trace store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps err for the given operation. It returns nil
// when err is nil and does not double-wrap.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
