// Package strategy provides a Registry for naming and looking up strategy
// implementations. The decision process itself is external to the engine;
// anything implementing backtest.Strategy can be registered, from the
// built-in reference strategies to an ML or agent-driven pipeline.
package strategy

import (
	"sort"

	"quantsim/internal/backtest"
)

// Registry holds a named collection of strategies for lookup and
// enumeration.
type Registry struct {
	strategies map[string]backtest.Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]backtest.Strategy),
	}
}

// Register adds a strategy to the registry under the given name, replacing
// any previous entry with that name.
func (r *Registry) Register(name string, s backtest.Strategy) {
	r.strategies[name] = s
}

// Get retrieves a strategy by name. The second return value indicates
// whether the strategy was found.
func (r *Registry) Get(name string) (backtest.Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
