package dag

import (
	"fmt"
	"log/slog"
	"strings"
)

// Graph is a validated, acyclic node graph with a computed topological
// order. Build it once per pipeline; it is read-only afterwards.
type Graph struct {
	defs  map[string]*NodeDef
	order []string // declaration order, for deterministic traversal

	adjacency   map[string][]string // node -> its dependencies
	reverseDeps map[string][]string // node -> its dependents
	topo        []string
}

// Build validates the node definitions and computes adjacency, reverse
// dependencies and topological order. It fails on unknown indicator
// sources, duplicate ids, and cycles.
func Build(defs []NodeDef) (*Graph, error) {
	g := &Graph{
		defs:        make(map[string]*NodeDef, len(defs)),
		adjacency:   make(map[string][]string, len(defs)),
		reverseDeps: make(map[string][]string, len(defs)),
	}

	for i := range defs {
		def := &defs[i]
		if _, dup := g.defs[def.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", def.ID)
		}
		g.defs[def.ID] = def
		g.order = append(g.order, def.ID)
	}

	if err := g.buildAdjacency(); err != nil {
		return nil, err
	}
	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	if err := g.computeTopoOrder(); err != nil {
		return nil, err
	}

	slog.Debug("DAG built",
		slog.String("component", "dag"),
		slog.Int("nodes", len(g.defs)),
		slog.Any("topo_order", g.topo))
	return g, nil
}

// buildAdjacency extracts node edges from INDICATOR inputs. TICK and CANDLE
// inputs are external data dependencies and introduce no edges.
func (g *Graph) buildAdjacency() error {
	for _, id := range g.order {
		def := g.defs[id]
		var deps []string
		for _, inp := range def.Inputs {
			if inp.Kind != InputIndicator {
				continue
			}
			if _, ok := g.defs[inp.Source]; !ok {
				return fmt.Errorf("node %q depends on unknown indicator %q", id, inp.Source)
			}
			deps = append(deps, inp.Source)
		}
		g.adjacency[id] = deps
		for _, dep := range deps {
			g.reverseDeps[dep] = append(g.reverseDeps[dep], id)
		}
	}
	return nil
}

// checkCycles runs a depth-first traversal with white/gray/black coloring.
// A gray (in-stack) hit reports the full cycle path.
func (g *Graph) checkCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.defs))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		color[id] = gray
		path = append(path, id)

		for _, dep := range g.adjacency[id] {
			switch color[dep] {
			case white:
				if err := visit(dep, path); err != nil {
					return err
				}
			case gray:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				return fmt.Errorf("cycle detected in DAG: %s", strings.Join(cycle, " -> "))
			}
		}

		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// computeTopoOrder runs Kahn's algorithm with a FIFO frontier. Ties are
// broken by declaration order: the frontier is seeded (and extended) in the
// order nodes were declared, so the result is deterministic for a given
// config merge.
func (g *Graph) computeTopoOrder() error {
	inDegree := make(map[string]int, len(g.defs))
	for id, deps := range g.adjacency {
		inDegree[id] = len(deps)
	}

	queue := make([]string, 0, len(g.defs))
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	g.topo = make([]string, 0, len(g.defs))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		g.topo = append(g.topo, id)

		for _, dependent := range g.reverseDeps[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Defense in depth: normally impossible after the DFS check.
	if len(g.topo) != len(g.defs) {
		var missing []string
		seen := make(map[string]bool, len(g.topo))
		for _, id := range g.topo {
			seen[id] = true
		}
		for _, id := range g.order {
			if !seen[id] {
				missing = append(missing, id)
			}
		}
		return fmt.Errorf("topological sort incomplete, cycle through: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Def returns the definition for a node id, or nil.
func (g *Graph) Def(id string) *NodeDef {
	return g.defs[id]
}

// Defs returns all node definitions in declaration order.
func (g *Graph) Defs() []*NodeDef {
	out := make([]*NodeDef, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.defs[id])
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.defs)
}

// TopoOrder returns node ids in dependency-first order.
func (g *Graph) TopoOrder() []string {
	return g.topo
}

// Dependencies returns the direct dependencies of a node.
func (g *Graph) Dependencies(id string) []string {
	return g.adjacency[id]
}

// Dependents returns the nodes that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return g.reverseDeps[id]
}

// TransitiveDependents collects every node downstream of id.
func (g *Graph) TransitiveDependents(id string) map[string]bool {
	out := make(map[string]bool)
	g.collectDependents(id, out)
	return out
}

func (g *Graph) collectDependents(id string, out map[string]bool) {
	for _, dep := range g.reverseDeps[id] {
		if !out[dep] {
			out[dep] = true
			g.collectDependents(dep, out)
		}
	}
}
