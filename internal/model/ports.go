package model

import "context"

// CandleReader reads historical candles for warm-starting node buffers.
type CandleReader interface {
	// RecentCandles returns up to limit candles for (symbol, timeframe) in
	// chronological order, ending at the most recent stored candle.
	RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}
