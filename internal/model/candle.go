package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Candle represents a completed OHLCV candle for a single symbol and
// timeframe. Timestamp is the candle open time, aligned to the timeframe
// width. A candle is immutable once emitted.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Timeframe string    `json:"timeframe"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	TickCount int       `json:"tick_count"`
}

// Key returns "symbol:timeframe", the builder-table key for this candle.
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.Timeframe
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// ParseCandle decodes and validates a candle payload.
func ParseCandle(data []byte) (Candle, error) {
	var c Candle
	if err := json.Unmarshal(data, &c); err != nil {
		return Candle{}, fmt.Errorf("decode candle: %w", err)
	}
	if c.Symbol == "" {
		return Candle{}, fmt.Errorf("decode candle: missing symbol")
	}
	if c.Timestamp.IsZero() {
		return Candle{}, fmt.Errorf("decode candle: missing timestamp")
	}
	if !ValidTimeframe(c.Timeframe) {
		return Candle{}, fmt.Errorf("decode candle: unknown timeframe %q", c.Timeframe)
	}
	return c, nil
}
