// Package agg builds multi-timeframe OHLCV candles from the raw tick stream.
//
// For every tick and every configured timeframe the aggregator folds the
// tick into an in-progress builder. Completed candles are emitted on two
// paths: when a tick arrives in a new aligned window (boundary path) and
// when the 1 Hz sweep observes that a window has closed in wall-clock time
// (liveness path for symbols that go silent). The builder table is guarded
// by a single mutex; finalized candles are enqueued under the lock and
// published from the run loop so network I/O never happens inside the
// critical section.
package agg

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradeflow/internal/bus"
	"tradeflow/internal/model"
)

// Aggregator folds ticks into per-(symbol, timeframe) candle builders and
// publishes completed candles to the bus.
type Aggregator struct {
	mu       sync.Mutex
	builders map[string]map[string]*model.CandleBuilder // symbol -> timeframe -> builder

	timeframes []string
	bus        bus.Bus
	out        chan model.Candle
	log        *slog.Logger

	sweepInterval time.Duration

	// Metrics hooks (optional, set externally)
	OnTick          func()
	OnCandle        func(timeframe string)
	OnDroppedTick   func()
	OnDecodeError   func()
	OnPublishError  func()
	OnQueueOverflow func()
}

// New creates an aggregator for the given timeframe tags.
func New(b bus.Bus, timeframes []string) (*Aggregator, error) {
	if len(timeframes) == 0 {
		return nil, fmt.Errorf("agg: no timeframes configured")
	}
	for _, tf := range timeframes {
		if !model.ValidTimeframe(tf) {
			return nil, fmt.Errorf("agg: unknown timeframe %q", tf)
		}
	}
	return &Aggregator{
		builders:      make(map[string]map[string]*model.CandleBuilder),
		timeframes:    timeframes,
		bus:           b,
		out:           make(chan model.Candle, 1024),
		log:           slog.With(slog.String("component", "agg")),
		sweepInterval: time.Second,
	}, nil
}

// Start subscribes to all raw tick subjects.
func (a *Aggregator) Start() error {
	return a.bus.Subscribe(bus.AllTicks(), func(msg *bus.Msg) {
		a.handleTick(msg.Data)
	})
}

// Run drives the publish queue and the periodic sweep. Blocks until ctx is
// cancelled; remaining non-empty builders are flushed best effort on exit.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll()
			a.drain()
			return
		case c := <-a.out:
			a.publish(&c)
		case <-ticker.C:
			a.sweep(time.Now())
		}
	}
}

// handleTick folds one tick payload into every configured timeframe,
// finalizing builders whose window the tick has left.
func (a *Aggregator) handleTick(data []byte) {
	tick, err := model.ParseTick(data)
	if err != nil {
		a.log.Error("dropping malformed tick", slog.Any("err", err))
		if a.OnDecodeError != nil {
			a.OnDecodeError()
		}
		return
	}
	if a.OnTick != nil {
		a.OnTick()
	}

	a.mu.Lock()
	byTF := a.builders[tick.Symbol]
	if byTF == nil {
		byTF = make(map[string]*model.CandleBuilder, len(a.timeframes))
		a.builders[tick.Symbol] = byTF
	}

	for _, tf := range a.timeframes {
		start := model.AlignTime(tick.Timestamp, tf)

		b := byTF[tf]
		if b == nil {
			b = model.NewCandleBuilder(tick.Symbol, tf, start)
			byTF[tf] = b
		} else if start.Before(b.Start) {
			// Late tick for an already-superseded window. Folding it would
			// break start-monotonic emission, so it is dropped for this TF.
			if a.OnDroppedTick != nil {
				a.OnDroppedTick()
			}
			continue
		} else if !start.Equal(b.Start) {
			a.finalizeLocked(b)
			b = model.NewCandleBuilder(tick.Symbol, tf, start)
			byTF[tf] = b
		}

		b.AddTick(&tick)
	}
	a.mu.Unlock()
}

// sweep finalizes every non-empty builder whose window has closed by now,
// replacing it with a fresh builder anchored at the current window.
func (a *Aggregator) sweep(now time.Time) {
	a.mu.Lock()
	for _, byTF := range a.builders {
		for tf, b := range byTF {
			if b.Empty() {
				continue
			}
			width := time.Duration(model.TimeframeSeconds[tf]) * time.Second
			if now.Before(b.Start.Add(width)) {
				continue
			}
			a.finalizeLocked(b)
			byTF[tf] = model.NewCandleBuilder(b.Symbol, tf, model.AlignTime(now, tf))
		}
	}
	a.mu.Unlock()
}

// flushAll finalizes all remaining non-empty builders (shutdown path).
func (a *Aggregator) flushAll() {
	a.mu.Lock()
	for _, byTF := range a.builders {
		for tf, b := range byTF {
			a.finalizeLocked(b)
			delete(byTF, tf)
		}
	}
	a.mu.Unlock()
}

// finalizeLocked builds the candle and enqueues it for publishing.
// Caller must hold a.mu; enqueueing under the lock preserves start order
// per (symbol, timeframe) across the boundary and sweep paths.
func (a *Aggregator) finalizeLocked(b *model.CandleBuilder) {
	if b.Empty() {
		return
	}
	c, err := b.Build()
	if err != nil {
		a.log.Error("finalize failed", slog.Any("err", err))
		return
	}
	select {
	case a.out <- c:
	default:
		a.log.Warn("publish queue full, dropping candle",
			slog.String("symbol", c.Symbol), slog.String("timeframe", c.Timeframe))
		if a.OnQueueOverflow != nil {
			a.OnQueueOverflow()
		}
	}
}

// drain publishes whatever is left in the queue without blocking.
func (a *Aggregator) drain() {
	for {
		select {
		case c := <-a.out:
			a.publish(&c)
		default:
			return
		}
	}
}

// publish sends one completed candle to the bus. Failures are logged and
// the candle is not re-enqueued (at-most-once downstream).
func (a *Aggregator) publish(c *model.Candle) {
	subject := bus.Candles(c.Symbol, c.Timeframe)
	if err := a.bus.Publish(subject, c.JSON()); err != nil {
		a.log.Error("candle publish failed",
			slog.String("subject", subject), slog.Any("err", err))
		if a.OnPublishError != nil {
			a.OnPublishError()
		}
		return
	}
	if a.OnCandle != nil {
		a.OnCandle(c.Timeframe)
	}
}
