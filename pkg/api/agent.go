package api

import "context"

// Agent is the capability behind a step. Invoke receives a private copy of
// the run context and returns the step output, or an error to request a
// retry.
type Agent interface {
	Invoke(ctx context.Context, in Context) (any, error)
}

// AgentFunc adapts an ordinary function to the Agent interface.
type AgentFunc func(ctx context.Context, in Context) (any, error)

// Invoke calls f(ctx, in).
func (f AgentFunc) Invoke(ctx context.Context, in Context) (any, error) {
	return f(ctx, in)
}

// AgentResolver maps an implementation reference to an Agent. Resolvers
// must always return a usable Agent; unknown references fall back to a
// passthrough implementation.
type AgentResolver interface {
	Resolve(ref string) Agent
}
