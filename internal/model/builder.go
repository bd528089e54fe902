package model

import (
	"fmt"
	"time"
)

// CandleBuilder accumulates ticks into an in-progress candle for one
// (symbol, timeframe) pair. A builder is empty until the first tick sets
// the open; Build turns it into an immutable Candle.
type CandleBuilder struct {
	Symbol    string
	Timeframe string
	Start     time.Time

	open      float64
	high      float64
	low       float64
	close     float64
	volume    float64
	tickCount int
	hasOpen   bool
}

// NewCandleBuilder creates an empty builder anchored at start.
func NewCandleBuilder(symbol, timeframe string, start time.Time) *CandleBuilder {
	return &CandleBuilder{
		Symbol:    symbol,
		Timeframe: timeframe,
		Start:     start,
	}
}

// AddTick folds a tick into the builder. The first tick initializes
// open=high=low=close; later ticks update high/low/close and accumulate
// volume and tick count.
func (b *CandleBuilder) AddTick(t *Tick) {
	price := t.Price

	if !b.hasOpen {
		b.open = price
		b.high = price
		b.low = price
		b.hasOpen = true
	}
	if price > b.high {
		b.high = price
	}
	if price < b.low {
		b.low = price
	}
	b.close = price
	b.volume += t.VolumeOrZero()
	b.tickCount++
}

// Empty reports whether the builder has received no ticks.
func (b *CandleBuilder) Empty() bool {
	return !b.hasOpen
}

// Build finalizes the builder into a Candle. Building an empty builder is
// a programming error.
func (b *CandleBuilder) Build() (Candle, error) {
	if b.Empty() {
		return Candle{}, fmt.Errorf("build candle %s %s: no ticks", b.Symbol, b.Timeframe)
	}
	return Candle{
		Symbol:    b.Symbol,
		Timestamp: b.Start,
		Timeframe: b.Timeframe,
		Open:      b.open,
		High:      b.high,
		Low:       b.low,
		Close:     b.close,
		Volume:    b.volume,
		TickCount: b.tickCount,
	}, nil
}
