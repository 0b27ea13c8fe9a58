package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/petrijr/synapse/internal/persistence"
	"github.com/petrijr/synapse/pkg/api"
)

// stepOutcome is the result of running one step through all of its
// allowed attempts.
type stepOutcome struct {
	Output   any
	Err      error // last attempt error; nil on success
	Duration time.Duration
	Attempts int
}

func (o stepOutcome) succeeded() bool {
	return o.Err == nil
}

// stepRunner executes one step of one run with bounded retry. All of its
// attempts are recorded under the same agentID.
type stepRunner struct {
	def     api.StepDefinition
	agent   api.Agent
	agentID string

	store    persistence.TraceWriter
	observer api.Observer
	policy   api.RetryPolicy
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// invoke runs the step against view. Step failures are reported through
// the outcome; the returned error is non-nil only when the trace could not
// be written.
func (r *stepRunner) invoke(ctx context.Context, run *api.Run, view api.Context) (stepOutcome, error) {
	start := r.now()
	attempt := 0

	for attempt <= r.def.MaxRetries {
		attempt++

		attemptStart := r.now()
		output, stack, err := r.call(ctx, view.Clone())
		elapsed := r.now().Sub(attemptStart)

		rec := &api.StepAttempt{
			RunID:     run.ID,
			AgentID:   r.agentID,
			StepName:  r.def.Name,
			Input:     view.Clone(),
			Duration:  elapsed,
			Attempt:   attempt,
			Timestamp: r.now(),
			Model:     r.def.Model,
		}
		if err == nil {
			rec.Output = output
		} else {
			if stack == "" {
				stack = fmt.Sprintf("%+v", err)
			}
			rec.Error = &api.ErrorInfo{Message: err.Error(), Stack: stack}
		}

		if perr := r.store.RecordStepAttempt(ctx, rec); perr != nil {
			return stepOutcome{}, api.NewPersistenceError("record step attempt", perr)
		}
		r.observer.OnStepAttempt(ctx, run, rec)

		if err == nil {
			return stepOutcome{
				Output:   output,
				Duration: r.now().Sub(start),
				Attempts: attempt,
			}, nil
		}

		failure := stepOutcome{
			Err:      &api.StepAttemptError{Step: r.def.Name, Attempt: attempt, Err: err},
			Duration: r.now().Sub(start),
			Attempts: attempt,
		}
		if attempt > r.def.MaxRetries {
			return failure, nil
		}

		if serr := r.sleep(ctx, r.policy.Delay(attempt)); serr != nil {
			failure.Err = serr
			failure.Duration = r.now().Sub(start)
			return failure, nil
		}
	}

	// Unreachable: MaxRetries is validated non-negative.
	return stepOutcome{Err: fmt.Errorf("step %q made no attempts", r.def.Name)}, nil
}

// call invokes the agent, turning a panic into an error plus the
// goroutine stack at the point of the panic.
func (r *stepRunner) call(ctx context.Context, in api.Context) (out any, stack string, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			stack = string(debug.Stack())
			err = fmt.Errorf("panic in step %q: %v", r.def.Name, p)
		}
	}()
	out, err = r.agent.Invoke(ctx, in)
	return out, "", err
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
