package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/petrijr/synapse/pkg/api"
)

// Builtin implementation references.
const (
	EchoRef      = "echo"
	ResearchRef  = "builtin_research"
	SummarizeRef = "builtin_summarize"
)

// Echo returns the run input and the previous step's output unchanged.
func Echo() api.Agent {
	return api.AgentFunc(func(ctx context.Context, in api.Context) (any, error) {
		return map[string]any{
			"echo":            in.Input(),
			api.LastOutputKey: in.LastOutput(),
		}, nil
	})
}

// Research is an offline stand-in for a literature search: it produces a
// deterministic list of papers for the run input.
func Research() api.Agent {
	return api.AgentFunc(func(ctx context.Context, in api.Context) (any, error) {
		topic := strings.TrimSpace(in.Input())
		if topic == "" {
			return nil, fmt.Errorf("research: empty topic")
		}
		papers := make([]any, 0, 3)
		for i, kind := range []string{"survey", "benchmark", "case study"} {
			papers = append(papers, map[string]any{
				"id":    fmt.Sprintf("paper-%d", i+1),
				"title": fmt.Sprintf("A %s of %s", kind, topic),
			})
		}
		return map[string]any{
			"topic":  topic,
			"papers": papers,
		}, nil
	})
}

// Summarize condenses the previous step's output into a single line.
func Summarize() api.Agent {
	return api.AgentFunc(func(ctx context.Context, in api.Context) (any, error) {
		prev := in.LastOutput()
		m, _ := prev.(map[string]any)

		var titles []string
		if papers, ok := m["papers"].([]any); ok {
			for _, p := range papers {
				if pm, ok := p.(map[string]any); ok {
					if title, ok := pm["title"].(string); ok {
						titles = append(titles, title)
					}
				}
			}
		}

		summary := fmt.Sprintf("No findings for %q", in.Input())
		if len(titles) > 0 {
			summary = fmt.Sprintf("Reviewed %d papers on %q: %s", len(titles), in.Input(), strings.Join(titles, "; "))
		}
		return map[string]any{
			"summary": summary,
			"count":   len(titles),
		}, nil
	})
}
