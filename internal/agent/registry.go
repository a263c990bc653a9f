package agent

import (
	"fmt"
	"sort"
)

// Registry is the closed set of agents the orchestrator may dispatch to.
// It is built once at startup and never modified afterwards, so lookups
// need no locking.
type Registry struct {
	agents map[string]Agent
}

// NewRegistry builds a registry from the given agents.
// Duplicate names are a configuration defect.
func NewRegistry(agents ...Agent) (*Registry, error) {
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		if a.Name() == "" {
			return nil, fmt.Errorf("agent with empty name")
		}
		if _, dup := r.agents[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", a.Name())
		}
		r.agents[a.Name()] = a
	}
	return r, nil
}

// Get returns the agent registered under name.
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.agents[name]
	return ok
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
