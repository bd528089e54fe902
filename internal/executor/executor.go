// Package executor schedules DAG node execution per incoming event. For
// each event it selects the impacted nodes (direct consumers plus their
// transitive dependents), runs them in topological order, threads upstream
// outputs into downstream inputs, and keeps each node's persistent state.
package executor

import (
	"fmt"
	"log/slog"
	"sync"

	"tradeflow/internal/dag"
	"tradeflow/internal/model"
)

// Event is one dispatchable bus event: a tick or a completed candle.
type Event struct {
	Kind      dag.InputKind
	Timeframe string // set for candle events
	Tick      *model.Tick
	Candle    *model.Candle
}

// TickEvent wraps a tick for dispatch.
func TickEvent(t *model.Tick) Event {
	return Event{Kind: dag.InputTick, Tick: t}
}

// CandleEvent wraps a completed candle for dispatch.
func CandleEvent(c *model.Candle) Event {
	return Event{Kind: dag.InputCandle, Timeframe: c.Timeframe, Candle: c}
}

// Executor owns the node instances and their persistent state for one
// pipeline. It is used by a single coordinator; execution is strictly
// serial per executor.
type Executor struct {
	mu    sync.Mutex
	graph *dag.Graph
	nodes map[string]dag.Node

	states  map[string]dag.State   // persisted across events
	outputs map[string]dag.Outputs // scoped to the current event

	log *slog.Logger

	// OnComputeError is an optional metrics hook called when a node's
	// compute fails and its output is recorded as empty.
	OnComputeError func(nodeID string)
}

// New creates an executor and initializes every node's state via
// InitState.
func New(graph *dag.Graph, nodes map[string]dag.Node) *Executor {
	states := make(map[string]dag.State, len(nodes))
	for id, node := range nodes {
		states[id] = node.InitState()
	}
	return &Executor{
		graph:   graph,
		nodes:   nodes,
		states:  states,
		outputs: make(map[string]dag.Outputs),
		log:     slog.With(slog.String("component", "executor")),
	}
}

// ExecuteEvent dispatches one event through the DAG: the impacted set is
// computed, projected onto the topological order, and every impacted node
// fires exactly once. It returns this dispatch's node outputs; the map
// belongs to the caller and is never touched by later dispatches, so
// concurrent callers each see exactly their own event's outputs. Node
// outputs from previous events never leak into this dispatch.
func (e *Executor) ExecuteEvent(ev Event) map[string]dag.Outputs {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.outputs = make(map[string]dag.Outputs)

	impacted := e.impactedNodes(ev)
	if len(impacted) == 0 {
		return e.outputs
	}

	for _, id := range e.graph.TopoOrder() {
		if !impacted[id] {
			continue
		}
		e.runNode(id, ev)
	}
	return e.outputs
}

// State returns a node's persistent state (warm-start seeding).
func (e *Executor) State(id string) dag.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[id]
}

// impactedNodes returns the direct consumers of the event plus their
// transitive dependents.
func (e *Executor) impactedNodes(ev Event) map[string]bool {
	impacted := make(map[string]bool)
	for _, def := range e.graph.Defs() {
		for _, inp := range def.Inputs {
			if inp.Kind != ev.Kind {
				continue
			}
			if ev.Kind == dag.InputCandle && inp.Source != ev.Timeframe {
				continue
			}
			impacted[def.ID] = true
			for dep := range e.graph.TransitiveDependents(def.ID) {
				impacted[dep] = true
			}
			break
		}
	}
	return impacted
}

// runNode assembles inputs, fires the node, and records its output. A
// failed or panicking compute is logged and recorded as an empty output so
// downstream nodes see a missing input rather than a crash.
func (e *Executor) runNode(id string, ev Event) {
	node := e.nodes[id]
	def := e.graph.Def(id)
	inputs := e.gatherInputs(def, ev)

	out, err := e.computeGuarded(node, inputs, e.states[id])
	if err != nil {
		e.log.Error("node compute failed",
			slog.String("node", id),
			slog.String("type", def.Type),
			slog.Any("err", err))
		if e.OnComputeError != nil {
			e.OnComputeError(id)
		}
		out = dag.Outputs{}
	}
	e.outputs[id] = out
}

// computeGuarded invokes Compute and converts panics into errors.
func (e *Executor) computeGuarded(node dag.Node, inputs dag.Inputs, state dag.State) (out dag.Outputs, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compute panic: %v", r)
		}
	}()
	return node.Compute(inputs, state)
}

// gatherInputs assembles the input mapping for one firing:
//   - TICK inputs contribute under "tick" (tick events only)
//   - CANDLE inputs whose source matches the event timeframe contribute
//     under "candle_{tf}" (candle events only)
//   - INDICATOR inputs contribute under the source node id, projected to
//     one field when the InputRef names one; sources that emitted nothing
//     in this event contribute nothing
func (e *Executor) gatherInputs(def *dag.NodeDef, ev Event) dag.Inputs {
	inputs := make(dag.Inputs)

	for _, inp := range def.Inputs {
		switch inp.Kind {
		case dag.InputTick:
			if ev.Kind == dag.InputTick {
				inputs["tick"] = ev.Tick
			}

		case dag.InputCandle:
			if ev.Kind == dag.InputCandle && inp.Source == ev.Timeframe {
				inputs["candle_"+inp.Source] = ev.Candle
			}

		case dag.InputIndicator:
			upstream, ok := e.outputs[inp.Source]
			if !ok || len(upstream) == 0 {
				continue
			}
			if inp.Field != "" {
				if v, ok := upstream[inp.Field]; ok {
					inputs[inp.Source] = v
				}
				continue
			}
			inputs[inp.Source] = upstream
		}
	}
	return inputs
}
