// Package timescale reads historical candles from the candles hypertable.
// It serves only the warm-start path; the live engine never queries it per
// event.
package timescale

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"tradeflow/internal/model"
)

// Reader loads recent candles over a pgx connection pool.
type Reader struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Connect opens a pool against databaseURL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*Reader, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("timescale connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("timescale ping: %w", err)
	}
	return &Reader{
		pool: pool,
		log:  slog.With(slog.String("component", "timescale")),
	}, nil
}

// RecentCandles returns the most recent limit candles for symbol and
// timeframe in chronological order (oldest first).
func (r *Reader) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	const query = `
		SELECT time, symbol, timeframe, open, high, low, close, volume, tick_count
		FROM candles
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY time DESC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("query candles %s/%s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Timestamp, &c.Symbol, &c.Timeframe,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.TickCount); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read candles: %w", err)
	}

	// Newest-first from the index scan; callers want oldest-first.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// Close releases the pool.
func (r *Reader) Close() error {
	r.pool.Close()
	return nil
}
