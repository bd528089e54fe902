package filtersettings

import (
	"fmt"

	"tradeflow/internal/dag"
	"tradeflow/internal/model"
)

// TypeName is the node type under which the factory is registered.
const TypeName = "FilterSettings"

const (
	defaultBufferSize = 3
	minBufferSize     = 2

	stateBuffer = "buffer"
	stateFilled = "buffer_filled"
)

// Node is the FilterSettings DAG node. It buffers the last bufferSize
// candles of one timeframe and emits the combined filter map once the
// buffer is full.
type Node struct {
	id         string
	timeframe  string
	bufferSize int
}

// Register adds the FilterSettings factory to a node registry.
func Register(r *dag.Registry) {
	r.Register(TypeName, NewFromDef)
}

// NewFromDef builds a FilterSettings node from its definition. The node
// requires exactly one CANDLE input and accepts an optional buffer_size
// param (default 3, minimum 2).
func NewFromDef(def *dag.NodeDef) (dag.Node, error) {
	timeframe := ""
	for _, inp := range def.Inputs {
		if inp.Kind == dag.InputCandle {
			if timeframe != "" {
				return nil, fmt.Errorf("multiple candle inputs")
			}
			timeframe = inp.Source
		}
	}
	if timeframe == "" {
		return nil, fmt.Errorf("requires a candle input")
	}

	size := defaultBufferSize
	if raw, ok := def.Params["buffer_size"]; ok {
		switch v := raw.(type) {
		case int:
			size = v
		case float64:
			size = int(v)
		default:
			return nil, fmt.Errorf("buffer_size must be a number, got %T", raw)
		}
	}
	if size < minBufferSize {
		return nil, fmt.Errorf("buffer_size must be >= %d, got %d", minBufferSize, size)
	}

	return &Node{id: def.ID, timeframe: timeframe, bufferSize: size}, nil
}

func (n *Node) ID() string { return n.id }

// Timeframe returns the candle timeframe the node consumes.
func (n *Node) Timeframe() string { return n.timeframe }

// InitState starts with an empty candle buffer.
func (n *Node) InitState() dag.State {
	return dag.State{
		stateBuffer: []model.Candle{},
		stateFilled: false,
	}
}

// WarmStartDepth returns how many historical candles fill the buffer.
func (n *Node) WarmStartDepth() int { return n.bufferSize }

// Seed preloads the candle buffer from historical candles, oldest first.
// Only the newest bufferSize candles are retained.
func (n *Node) Seed(state dag.State, candles []model.Candle) {
	if len(candles) > n.bufferSize {
		candles = candles[len(candles)-n.bufferSize:]
	}
	buf := make([]model.Candle, len(candles))
	copy(buf, candles)
	state[stateBuffer] = buf
	state[stateFilled] = len(buf) >= n.bufferSize
}

// Compute appends the incoming candle to the buffer and, once the buffer
// holds bufferSize candles, emits the filter envelope. During warm-up it
// emits nothing.
func (n *Node) Compute(inputs dag.Inputs, state dag.State) (dag.Outputs, error) {
	raw, ok := inputs["candle_"+n.timeframe]
	if !ok {
		return nil, nil
	}
	candle, ok := raw.(*model.Candle)
	if !ok {
		return nil, fmt.Errorf("unexpected candle input type %T", raw)
	}

	buf, _ := state[stateBuffer].([]model.Candle)
	buf = append(buf, *candle)
	if len(buf) > n.bufferSize {
		buf = buf[len(buf)-n.bufferSize:]
	}
	state[stateBuffer] = buf

	if len(buf) < n.bufferSize {
		return nil, nil
	}
	state[stateFilled] = true

	fs := model.FilterSettings{
		Symbol:    candle.Symbol,
		Timestamp: candle.Timestamp,
		Timeframe: candle.Timeframe,
		Filters:   AllFilters(buf),
	}
	return dag.Outputs{
		"symbol":    fs.Symbol,
		"timestamp": fs.Timestamp,
		"timeframe": fs.Timeframe,
		"filters":   fs.Filters,
	}, nil
}
