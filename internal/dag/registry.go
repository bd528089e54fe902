package dag

import (
	"fmt"
	"log/slog"
	"sort"
)

// Factory builds a Node instance from its definition.
type Factory func(def *NodeDef) (Node, error)

// Registry maps node type names to factories. It is consulted once at
// coordinator startup when node instances are created, never on the hot
// path.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a node type. Re-registering a type replaces
// the previous factory with a warning.
func (r *Registry) Register(nodeType string, factory Factory) {
	if _, exists := r.factories[nodeType]; exists {
		slog.Warn("overwriting node type registration",
			slog.String("component", "dag"), slog.String("type", nodeType))
	}
	r.factories[nodeType] = factory
}

// Create instantiates a node from its definition.
func (r *Registry) Create(def *NodeDef) (Node, error) {
	factory, ok := r.factories[def.Type]
	if !ok {
		return nil, fmt.Errorf("unknown node type %q (registered: %v)", def.Type, r.Types())
	}
	node, err := factory(def)
	if err != nil {
		return nil, fmt.Errorf("create node %q (type %s): %w", def.ID, def.Type, err)
	}
	return node, nil
}

// Types lists the registered node types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
