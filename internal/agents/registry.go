// Package agents maps implementation references from workflow documents to
// runnable agents.
package agents

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/petrijr/synapse/pkg/api"
)

// Registry is a goroutine-safe api.AgentResolver. Unknown references
// resolve to the echo agent so that a typo in a workflow degrades to a
// passthrough instead of aborting the run.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]api.Agent
	fallback api.Agent
	logger   *slog.Logger
}

var _ api.AgentResolver = (*Registry)(nil)

// NewRegistry returns an empty registry whose fallback is Echo. If logger
// is nil, slog.Default() is used.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents:   make(map[string]api.Agent),
		fallback: Echo(),
		logger:   logger,
	}
}

// NewDefaultRegistry returns a registry with the builtin agents registered.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.MustRegister(EchoRef, Echo())
	r.MustRegister(ResearchRef, Research())
	r.MustRegister(SummarizeRef, Summarize())
	return r
}

// Register adds an agent under name. Registering the same name twice is an
// error.
func (r *Registry) Register(name string, agent api.Agent) error {
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	if agent == nil {
		return fmt.Errorf("agent %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent already registered: %s", name)
	}
	r.agents[name] = agent
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, agent api.Agent) {
	if err := r.Register(name, agent); err != nil {
		panic(err)
	}
}

// Resolve returns the agent registered under ref, or the fallback.
func (r *Registry) Resolve(ref string) api.Agent {
	r.mu.RLock()
	a, ok := r.agents[ref]
	r.mu.RUnlock()
	if ok {
		return a
	}

	r.logger.Warn("unknown agent implementation, using passthrough",
		slog.String("impl", ref),
		slog.String("fallback", EchoRef),
	)
	return r.fallback
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
