// Package workflow loads workflow documents into validated graphs.
//
// A document names an entry step and maps step names to their settings:
//
//	start: research
//	nodes:
//	  research:
//	    impl: builtin_research
//	    model: mock
//	    retries: 2
//	    next: summarize
//	  summarize:
//	    impl: builtin_summarize
package workflow

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/petrijr/synapse/pkg/api"
)

// Document is the on-disk shape of a workflow.
type Document struct {
	Name        string          `yaml:"name,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Start       string          `yaml:"start"`
	Nodes       map[string]Node `yaml:"nodes"`
}

// Node is one step entry of a Document. Retries is a pointer so an
// explicit 0 can be told apart from an omitted value.
type Node struct {
	Impl    string `yaml:"impl,omitempty"`
	Model   string `yaml:"model,omitempty"`
	Retries *int   `yaml:"retries,omitempty"`
	Next    string `yaml:"next,omitempty"`
}

// Load reads and validates the workflow document at path. The path is
// used as the graph's reference.
func Load(path string) (*api.WorkflowGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes and validates a workflow document. ref identifies the
// document in errors and in the trace.
func Parse(ref string, data []byte) (*api.WorkflowGraph, error) {
	var doc Document
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.Strict()); err != nil {
		return nil, &api.InvalidWorkflowError{Ref: ref, Reason: err.Error()}
	}
	return doc.Graph(ref)
}

// Graph converts the document into a validated graph, applying defaults
// for omitted fields.
func (d Document) Graph(ref string) (*api.WorkflowGraph, error) {
	if d.Start == "" {
		return nil, &api.InvalidWorkflowError{Ref: ref, Reason: "workflow must have 'start'"}
	}
	if len(d.Nodes) == 0 {
		return nil, &api.InvalidWorkflowError{Ref: ref, Reason: "workflow must have 'nodes'"}
	}

	steps := make(map[api.StepName]api.StepDefinition, len(d.Nodes))
	for name, n := range d.Nodes {
		retries := api.DefaultMaxRetries
		if n.Retries != nil {
			retries = *n.Retries
		}
		steps[api.StepName(name)] = api.StepDefinition{
			Name:       api.StepName(name),
			Impl:       n.Impl,
			Model:      n.Model,
			MaxRetries: retries,
			Next:       api.StepName(n.Next),
		}
	}

	return api.NewWorkflowGraph(ref, api.StepName(d.Start), steps)
}

// IsInvalid reports whether err is an *api.InvalidWorkflowError.
func IsInvalid(err error) bool {
	var iwe *api.InvalidWorkflowError
	return errors.As(err, &iwe)
}
