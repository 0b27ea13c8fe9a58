package api

import (
	"fmt"
	"sort"
)

// StepName identifies a step within a workflow graph.
type StepName string

const (
	// DefaultModel is the model label used when a step does not declare one.
	DefaultModel = "mock"

	// DefaultMaxRetries is the retry budget used when a step does not declare one.
	DefaultMaxRetries = 1

	// DefaultImpl is the implementation reference used when a step does not declare one.
	DefaultImpl = "echo"
)

// StepDefinition describes a single step of a workflow.
//
// MaxRetries counts retries after the first attempt, so a step with
// MaxRetries = 1 is invoked at most twice.
type StepDefinition struct {
	Name       StepName
	Impl       string
	Model      string
	MaxRetries int

	// Next is the successor step. Empty means the step is terminal.
	Next StepName
}

// Terminal reports whether the step has no successor.
func (d StepDefinition) Terminal() bool {
	return d.Next == ""
}

// WorkflowGraph is the validated, read-only description of a workflow:
// a singly-linked chain of steps with one entry point.
//
// A WorkflowGraph is safe for concurrent use by multiple runs; nothing
// mutates it after NewWorkflowGraph returns.
type WorkflowGraph struct {
	ref   string
	entry StepName
	steps map[StepName]StepDefinition
}

// NewWorkflowGraph validates the given steps and returns an immutable graph.
//
// ref is a free-form reference to where the workflow came from (usually
// the document path) and is recorded on every run.
//
// Validation rejects:
//   - an empty or unknown entry step
//   - a step named TerminalStep
//   - a Next reference that is not a key of steps
//   - negative MaxRetries
//   - cycles in the Next chain
func NewWorkflowGraph(ref string, entry StepName, steps map[StepName]StepDefinition) (*WorkflowGraph, error) {
	if entry == "" {
		return nil, &InvalidWorkflowError{Ref: ref, Reason: "missing entry step"}
	}
	if len(steps) == 0 {
		return nil, &InvalidWorkflowError{Ref: ref, Reason: "workflow has no steps"}
	}
	if _, ok := steps[entry]; !ok {
		return nil, &InvalidWorkflowError{Ref: ref, Reason: fmt.Sprintf("entry step %q is not defined", entry)}
	}

	copied := make(map[StepName]StepDefinition, len(steps))
	for name, def := range steps {
		if name == "" {
			return nil, &InvalidWorkflowError{Ref: ref, Reason: "step name must not be empty"}
		}
		if name == TerminalStep {
			return nil, &InvalidWorkflowError{Ref: ref, Reason: fmt.Sprintf("step name %q is reserved", name)}
		}
		if def.MaxRetries < 0 {
			return nil, &InvalidWorkflowError{Ref: ref, Reason: fmt.Sprintf("step %q has negative retries %d", name, def.MaxRetries)}
		}
		if def.Next != "" {
			if _, ok := steps[def.Next]; !ok {
				return nil, &InvalidWorkflowError{Ref: ref, Reason: fmt.Sprintf("step %q references unknown next step %q", name, def.Next)}
			}
		}
		def.Name = name
		if def.Impl == "" {
			def.Impl = DefaultImpl
		}
		if def.Model == "" {
			def.Model = DefaultModel
		}
		copied[name] = def
	}

	if err := checkAcyclic(ref, copied); err != nil {
		return nil, err
	}

	return &WorkflowGraph{
		ref:   ref,
		entry: entry,
		steps: copied,
	}, nil
}

// checkAcyclic walks the Next chain from every step. Each step has at most
// one successor, so a chain longer than the number of steps must revisit one.
func checkAcyclic(ref string, steps map[StepName]StepDefinition) error {
	names := make([]StepName, 0, len(steps))
	for name := range steps {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	done := make(map[StepName]bool, len(steps))
	for _, start := range names {
		if done[start] {
			continue
		}
		onPath := map[StepName]bool{}
		cur := start
		for cur != "" && !done[cur] {
			if onPath[cur] {
				return &InvalidWorkflowError{Ref: ref, Reason: fmt.Sprintf("cycle detected at step %q", cur)}
			}
			onPath[cur] = true
			cur = steps[cur].Next
		}
		for n := range onPath {
			done[n] = true
		}
	}
	return nil
}

// Ref returns the reference (usually a file path) the graph was loaded from.
func (g *WorkflowGraph) Ref() string {
	return g.ref
}

// EntryStep returns the first step of the workflow.
func (g *WorkflowGraph) EntryStep() StepName {
	return g.entry
}

// Lookup returns the definition of the named step.
func (g *WorkflowGraph) Lookup(name StepName) (StepDefinition, error) {
	def, ok := g.steps[name]
	if !ok {
		return StepDefinition{}, &UnknownStepError{Step: name}
	}
	return def, nil
}

// Len returns the number of steps in the graph.
func (g *WorkflowGraph) Len() int {
	return len(g.steps)
}

// Chain returns the step definitions in execution order, starting at the
// entry step. Steps unreachable from the entry are not included.
func (g *WorkflowGraph) Chain() []StepDefinition {
	out := make([]StepDefinition, 0, len(g.steps))
	for cur := g.entry; cur != ""; {
		def := g.steps[cur]
		out = append(out, def)
		cur = def.Next
	}
	return out
}
