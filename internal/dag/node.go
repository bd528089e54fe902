// Package dag defines the declarative node graph of the compute engine:
// node definitions loaded from pipeline configs, the runtime node contract,
// the validated graph with its topological order, and the type registry
// used to instantiate nodes at coordinator startup.
package dag

// InputKind classifies what a node input consumes.
type InputKind string

const (
	InputTick      InputKind = "tick"
	InputCandle    InputKind = "candle"
	InputIndicator InputKind = "indicator"
)

// Role classifies a node as indicator or strategy. It is assigned by the
// config loader from the section the node was declared in, so routing of
// outputs never depends on type-name conventions.
type Role string

const (
	RoleIndicator Role = "indicator"
	RoleStrategy  Role = "strategy"
)

// InputRef references one input source of a node.
// For InputCandle the source is a timeframe tag ("5m"); for InputIndicator
// it is another node's id, and Field optionally projects one named output.
type InputRef struct {
	Kind   InputKind
	Source string
	Field  string
}

// NodeDef is the declarative specification of a DAG node.
type NodeDef struct {
	ID      string
	Type    string
	Role    Role
	Inputs  []InputRef
	Params  map[string]any
	Outputs []string
}

// State is a node's persistent state, owned exclusively by that node and
// carried across events by the executor.
type State map[string]any

// Inputs is the per-firing input mapping assembled by the executor.
// Keys: "tick", "candle_{tf}", or an upstream node id.
type Inputs map[string]any

// Outputs is the mapping a node produces per firing; keys are a subset of
// the NodeDef's declared outputs. An empty (or nil) Outputs means the node
// chose not to emit for this event.
type Outputs map[string]any

// Node is the behavioral contract of an executable DAG node. Compute must
// not block: nodes observe time only through their inputs' timestamps.
type Node interface {
	// ID returns the node's unique id within the pipeline.
	ID() string

	// InitState builds the node's initial state. Called once.
	InitState() State

	// Compute runs one firing with the assembled inputs and the node's
	// persistent state. Inputs an upstream node did not emit are absent
	// from the mapping and must be tolerated.
	Compute(inputs Inputs, state State) (Outputs, error)
}
