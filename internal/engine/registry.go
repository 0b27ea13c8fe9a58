package engine

import (
	"sync"

	"github.com/petrijr/synapse/pkg/api"
)

// agentCache memoizes resolver lookups so each implementation reference is
// resolved once per engine, no matter how many runs use it.
type agentCache struct {
	resolver api.AgentResolver

	mu    sync.RWMutex
	byRef map[string]api.Agent
}

func newAgentCache(resolver api.AgentResolver) *agentCache {
	return &agentCache{
		resolver: resolver,
		byRef:    make(map[string]api.Agent),
	}
}

func (c *agentCache) Get(ref string) api.Agent {
	c.mu.RLock()
	a, ok := c.byRef[ref]
	c.mu.RUnlock()
	if ok {
		return a
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.byRef[ref]; ok {
		return a
	}
	a = c.resolver.Resolve(ref)
	c.byRef[ref] = a
	return a
}

// runnerSet holds the step runners of a single run. A step visited again
// in the same run reuses its runner and therefore its agent ID.
type runnerSet struct {
	byStep map[api.StepName]*stepRunner
	build  func(def api.StepDefinition) *stepRunner
}

func newRunnerSet(build func(def api.StepDefinition) *stepRunner) *runnerSet {
	return &runnerSet{
		byStep: make(map[api.StepName]*stepRunner),
		build:  build,
	}
}

func (s *runnerSet) Get(def api.StepDefinition) *stepRunner {
	if r, ok := s.byStep[def.Name]; ok {
		return r
	}
	r := s.build(def)
	s.byStep[def.Name] = r
	return r
}
