// Package filtersettings implements the rolling-window candle-pattern
// classifier node: it keeps the last N candles and derives direction and
// position filters from each candle's body direction and its relationship
// to the previous candle's body and extremes.
package filtersettings

import (
	"fmt"

	"tradeflow/internal/model"
)

// Filter values.
const (
	Above   = "Above"
	Below   = "Below"
	Bullish = "Bullish"
	Bearish = "Bearish"
)

// Direction classifies a candle body: Bullish iff close >= open.
func Direction(c *model.Candle) string {
	if c.Close >= c.Open {
		return Bullish
	}
	return Bearish
}

// DirectionFilters returns "C{k}_body_direction" for each candle in the
// buffer, oldest first.
func DirectionFilters(candles []model.Candle) map[string]string {
	filters := make(map[string]string, len(candles))
	for i := range candles {
		filters[fmt.Sprintf("C%d_body_direction", i+1)] = Direction(&candles[i])
	}
	return filters
}

// PositionFilters classifies each consecutive candle pair by the placement
// of the newer candle's high/low/close relative to the previous candle's
// body and extremes. The branch set is intentionally non-exhaustive: only
// confidently-classifiable relationships emit keys.
func PositionFilters(candles []model.Candle) map[string]string {
	filters := make(map[string]string)
	if len(candles) < 2 {
		return filters
	}

	for i := 0; i < len(candles)-1; i++ {
		c1 := &candles[i]   // previous candle
		c2 := &candles[i+1] // current candle
		k := i + 2          // C2, C3, ...

		c1Dir := Direction(c1)
		c2Dir := Direction(c2)

		// Body boundaries of the previous candle.
		c1BodyTop := c1.Open
		c1BodyBottom := c1.Close
		if c1Dir == Bullish {
			c1BodyTop = c1.Close
			c1BodyBottom = c1.Open
		}

		set := func(attr, rel, value string) {
			filters[fmt.Sprintf("C%d_%s_diff_prev_%s", k, attr, rel)] = value
		}

		if c1Dir == Bullish {
			if c2Dir == Bullish {
				// Bullish -> Bullish
				switch {
				case c2.Close > c1.High:
					set("close", "high", Above)
				case c2.High < c1.High:
					set("high", "high", Below)
				case c2.High > c1.High:
					set("high", "high", Above)
					set("close", "high", Below)
				}

				switch {
				case c2.Low < c1.Low:
					set("low", "low", Below)
				case c2.Low > c1BodyBottom:
					set("low", "open", Above)
				case c2.Low > c1.Low && c2.Low < c1BodyBottom:
					set("low", "open", Below)
					set("low", "low", Above)
				}
			} else {
				// Bullish -> Bearish
				switch {
				case c2.Close < c1.Low:
					set("close", "low", Below)
				case c2.Low > c1BodyBottom:
					set("low", "open", Above)
				case c2.Low > c1.Low && c2.Low < c1BodyBottom:
					set("low", "low", Above)
					set("low", "open", Below)
					if c2.Close < c1BodyBottom {
						set("close", "open", Below)
					} else {
						set("close", "open", Above)
					}
				}

				if c2.High > c1.High {
					set("high", "high", Above)
				} else {
					set("high", "high", Below)
				}
			}
		} else {
			if c2Dir == Bearish {
				// Bearish -> Bearish
				switch {
				case c2.Close < c1.Low:
					set("close", "low", Below)
				case c2.Low > c1.Low:
					set("low", "low", Above)
				case c2.Low < c1.Low:
					set("low", "low", Below)
					set("close", "low", Above)
				}

				switch {
				case c2.High > c1.High:
					set("high", "high", Above)
				case c2.High < c1BodyTop:
					set("high", "open", Below)
				case c2.High < c1.High && c2.High > c1BodyTop:
					set("high", "open", Above)
					set("high", "high", Below)
				}
			} else {
				// Bearish -> Bullish
				switch {
				case c2.Close > c1.High:
					set("close", "high", Above)
				case c2.High < c1BodyTop:
					set("high", "open", Below)
				case c2.High < c1.High && c2.High > c1BodyTop:
					set("high", "high", Below)
					set("high", "open", Above)
					if c2.Close > c1BodyTop {
						set("close", "open", Above)
					} else {
						set("close", "open", Below)
					}
				}

				if c2.Low < c1.Low {
					set("low", "low", Below)
				} else {
					set("low", "low", Above)
				}
			}
		}
	}

	return filters
}

// AllFilters combines direction and position filters for a buffer of
// candles, oldest first. Identical buffers yield identical filter maps.
func AllFilters(candles []model.Candle) map[string]string {
	filters := DirectionFilters(candles)
	for k, v := range PositionFilters(candles) {
		filters[k] = v
	}
	return filters
}
