// Package coordinator runs one symbol's pipeline: it loads the DAG from
// config, subscribes to the bus subjects the pipeline actually consumes,
// dispatches every event through the executor, and publishes non-empty
// node outputs back to the bus.
package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"tradeflow/internal/bus"
	"tradeflow/internal/dag"
	"tradeflow/internal/executor"
	"tradeflow/internal/model"
	"tradeflow/internal/pipeline"
)

// WarmStarter is implemented by nodes that can preload their state from
// historical candles before live events flow.
type WarmStarter interface {
	WarmStartDepth() int
	Timeframe() string
	Seed(state dag.State, candles []model.Candle)
}

// OutputCache receives the latest output of each node, keyed by symbol and
// node id. Used for cross-service lookups; failures must not stall the
// event path.
type OutputCache interface {
	SetLatest(ctx context.Context, symbol, nodeID string, payload []byte) error
}

// Coordinator owns one symbol's graph, executor and subscriptions.
// Event handling is serialized by the executor, so bus callbacks for ticks
// and candles may run concurrently without corrupting node state. Each
// callback publishes the output map returned by its own dispatch, so
// interleaved handlers never publish another event's outputs.
type Coordinator struct {
	symbol string
	bus    bus.Bus
	graph  *dag.Graph
	exec   *executor.Executor
	nodes  map[string]dag.Node
	log    *slog.Logger

	needsTicks bool
	candleTFs  map[string]bool

	// Cache is optional; nil disables latest-output caching.
	Cache OutputCache

	// Metrics hooks, all optional.
	OnEvent            func(kind string)
	OnDecodeError      func(kind string)
	OnMismatch         func()
	OnOutput           func(role string)
	OnPublishError     func()
	OnWarmStartFailure func(nodeID string)
}

// New loads the symbol's pipeline config, builds and validates the DAG,
// and instantiates every node through the registry. It fails on config
// conflicts, cycles, and unknown node types.
func New(symbol, configRoot string, b bus.Bus, reg *dag.Registry) (*Coordinator, error) {
	defs, err := pipeline.Load(configRoot, symbol)
	if err != nil {
		return nil, err
	}
	graph, err := dag.Build(defs)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]dag.Node, graph.Len())
	for _, def := range graph.Defs() {
		node, err := reg.Create(def)
		if err != nil {
			return nil, err
		}
		nodes[def.ID] = node
	}

	c := &Coordinator{
		symbol:    symbol,
		bus:       b,
		graph:     graph,
		exec:      executor.New(graph, nodes),
		nodes:     nodes,
		log:       slog.With(slog.String("component", "coordinator"), slog.String("symbol", symbol)),
		candleTFs: make(map[string]bool),
	}
	for _, def := range graph.Defs() {
		for _, inp := range def.Inputs {
			switch inp.Kind {
			case dag.InputTick:
				c.needsTicks = true
			case dag.InputCandle:
				c.candleTFs[inp.Source] = true
			}
		}
	}
	return c, nil
}

// Status is a point-in-time summary for the periodic status log.
type Status struct {
	Symbol    string
	Nodes     int
	TopoOrder []string
}

// Status reports the pipeline shape.
func (c *Coordinator) Status() Status {
	return Status{
		Symbol:    c.symbol,
		Nodes:     c.graph.Len(),
		TopoOrder: c.graph.TopoOrder(),
	}
}

// Executor exposes the underlying executor (compute-error hook, tests).
func (c *Coordinator) Executor() *executor.Executor { return c.exec }

// Graph exposes the validated DAG.
func (c *Coordinator) Graph() *dag.Graph { return c.graph }

// WarmStart preloads node state from the candle reader. A failed load for
// one node is logged and counted but never fatal: the node simply warms up
// from live candles instead.
func (c *Coordinator) WarmStart(ctx context.Context, reader model.CandleReader) {
	for _, def := range c.graph.Defs() {
		ws, ok := c.nodes[def.ID].(WarmStarter)
		if !ok {
			continue
		}
		depth := ws.WarmStartDepth()
		if depth <= 0 {
			continue
		}
		candles, err := reader.RecentCandles(ctx, c.symbol, ws.Timeframe(), depth)
		if err != nil {
			c.log.Warn("warm start failed, node starts cold",
				slog.String("node", def.ID),
				slog.String("timeframe", ws.Timeframe()),
				slog.Any("err", err))
			if c.OnWarmStartFailure != nil {
				c.OnWarmStartFailure(def.ID)
			}
			continue
		}
		ws.Seed(c.exec.State(def.ID), candles)
		c.log.Info("warm started node",
			slog.String("node", def.ID),
			slog.String("timeframe", ws.Timeframe()),
			slog.Int("candles", len(candles)))
	}
}

// Start subscribes to the tick and candle subjects the pipeline consumes.
// Subscriptions use symbol-scoped queue groups so that replicas of the
// same coordinator share the load instead of duplicating work.
func (c *Coordinator) Start() error {
	safe := bus.SanitizeSegment(c.symbol)

	if c.needsTicks {
		queue := "coordinator-" + safe + "-ticks"
		if err := c.bus.QueueSubscribe(bus.TicksRaw(c.symbol), queue, c.handleTick); err != nil {
			return err
		}
	}
	if len(c.candleTFs) > 0 {
		queue := "coordinator-" + safe + "-candles"
		if err := c.bus.QueueSubscribe(bus.CandlesAll(c.symbol), queue, c.handleCandle); err != nil {
			return err
		}
	}

	c.log.Info("coordinator started",
		slog.Int("nodes", c.graph.Len()),
		slog.Bool("ticks", c.needsTicks),
		slog.Int("candle_timeframes", len(c.candleTFs)))
	return nil
}

func (c *Coordinator) handleTick(msg *bus.Msg) {
	tick, err := model.ParseTick(msg.Data)
	if err != nil {
		c.log.Error("bad tick payload", slog.Any("err", err))
		if c.OnDecodeError != nil {
			c.OnDecodeError("tick")
		}
		return
	}
	if tick.Symbol != c.symbol {
		c.log.Warn("dropping tick for foreign symbol", slog.String("got", tick.Symbol))
		if c.OnMismatch != nil {
			c.OnMismatch()
		}
		return
	}
	if c.OnEvent != nil {
		c.OnEvent("tick")
	}
	c.publishOutputs(c.exec.ExecuteEvent(executor.TickEvent(&tick)))
}

func (c *Coordinator) handleCandle(msg *bus.Msg) {
	candle, err := model.ParseCandle(msg.Data)
	if err != nil {
		c.log.Error("bad candle payload", slog.Any("err", err))
		if c.OnDecodeError != nil {
			c.OnDecodeError("candle")
		}
		return
	}
	if candle.Symbol != c.symbol {
		c.log.Warn("dropping candle for foreign symbol", slog.String("got", candle.Symbol))
		if c.OnMismatch != nil {
			c.OnMismatch()
		}
		return
	}
	// The pipeline only subscribes per symbol, not per timeframe; candles
	// for timeframes no node consumes fall through the executor untouched.
	if c.OnEvent != nil {
		c.OnEvent("candle")
	}
	c.publishOutputs(c.exec.ExecuteEvent(executor.CandleEvent(&candle)))
}

// publishOutputs walks one dispatch's outputs in topological order and
// publishes every non-empty one: indicators to indicators.{symbol}.{id},
// strategies to strategies.signals.{symbol}.{id}.
func (c *Coordinator) publishOutputs(outputs map[string]dag.Outputs) {
	for _, id := range c.graph.TopoOrder() {
		out, ok := outputs[id]
		if !ok || len(out) == 0 {
			continue
		}
		payload, err := json.Marshal(out)
		if err != nil {
			c.log.Error("encode node output", slog.String("node", id), slog.Any("err", err))
			continue
		}

		def := c.graph.Def(id)
		subject := bus.Indicators(c.symbol, id)
		role := string(dag.RoleIndicator)
		if def.Role == dag.RoleStrategy {
			subject = bus.StrategySignals(c.symbol, id)
			role = string(dag.RoleStrategy)
		}

		if err := c.bus.Publish(subject, payload); err != nil {
			c.log.Error("publish node output",
				slog.String("node", id),
				slog.String("subject", subject),
				slog.Any("err", err))
			if c.OnPublishError != nil {
				c.OnPublishError()
			}
		} else if c.OnOutput != nil {
			c.OnOutput(role)
		}

		if c.Cache != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := c.Cache.SetLatest(ctx, c.symbol, id, payload); err != nil {
				c.log.Warn("cache latest output", slog.String("node", id), slog.Any("err", err))
			}
			cancel()
		}
	}
}
