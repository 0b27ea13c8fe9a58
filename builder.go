package synapse

import (
	"fmt"

	"github.com/petrijr/synapse/pkg/api"
)

// GraphBuilder provides a fluent API for defining a linear workflow in code:
//
//	graph, err := synapse.New("research").
//	    Step("search", "builtin_research", synapse.Retries(2)).
//	    Step("summarize", "builtin_summarize", synapse.Model("gpt-4o")).
//	    Build()
//
// Steps run in the order they were added; the first one is the entry step.
type GraphBuilder struct {
	ref   string
	order []api.StepName
	steps map[api.StepName]api.StepDefinition
	err   error
}

// StepOption customises a step added with GraphBuilder.Step.
type StepOption func(*api.StepDefinition)

// Model sets the model label recorded on the step's attempts.
func Model(name string) StepOption {
	return func(d *api.StepDefinition) { d.Model = name }
}

// Retries sets how many times a failed step is retried.
func Retries(n int) StepOption {
	return func(d *api.StepDefinition) { d.MaxRetries = n }
}

// New creates a builder for a workflow; name is recorded as the graph ref.
func New(name string) *GraphBuilder {
	return &GraphBuilder{
		ref:   name,
		steps: make(map[api.StepName]api.StepDefinition),
	}
}

// Name returns the workflow name.
func (b *GraphBuilder) Name() string {
	return b.ref
}

// Step appends a step running the agent registered under impl.
// Steps default to api.DefaultMaxRetries retries and the default model.
func (b *GraphBuilder) Step(name, impl string, opts ...StepOption) *GraphBuilder {
	if name == "" {
		panic("synapse: step name must not be empty")
	}
	step := api.StepName(name)
	if _, dup := b.steps[step]; dup && b.err == nil {
		b.err = &api.InvalidWorkflowError{Ref: b.ref, Reason: fmt.Sprintf("duplicate step %q", name)}
	}

	def := api.StepDefinition{
		Name:       step,
		Impl:       impl,
		MaxRetries: api.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&def)
	}

	if n := len(b.order); n > 0 {
		prev := b.steps[b.order[n-1]]
		prev.Next = step
		b.steps[prev.Name] = prev
	}
	b.order = append(b.order, step)
	b.steps[step] = def
	return b
}

// Build validates the steps and returns the immutable graph.
func (b *GraphBuilder) Build() (*api.WorkflowGraph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.order) == 0 {
		return nil, &api.InvalidWorkflowError{Ref: b.ref, Reason: "workflow has no steps"}
	}
	return api.NewWorkflowGraph(b.ref, b.order[0], b.steps)
}

// MustBuild is like Build but panics on error.
// Useful for initialization in main().
func (b *GraphBuilder) MustBuild() *api.WorkflowGraph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}
