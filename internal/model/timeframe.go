package model

import "time"

// TimeframeSeconds maps the supported timeframe tags to their width in seconds.
var TimeframeSeconds = map[string]int64{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"30m": 1800,
	"1h":  3600,
	"4h":  14400,
	"1d":  86400,
}

// ValidTimeframe reports whether tf is a supported timeframe tag.
func ValidTimeframe(tf string) bool {
	_, ok := TimeframeSeconds[tf]
	return ok
}

// AlignTime returns the start of the candle containing ts for the given
// timeframe: floor(epoch/width)*width. The timezone of ts is preserved.
// An unknown timeframe tag returns ts unchanged.
func AlignTime(ts time.Time, tf string) time.Time {
	width := TimeframeSeconds[tf]
	if width <= 0 {
		return ts
	}
	aligned := (ts.Unix() / width) * width
	return time.Unix(aligned, 0).In(ts.Location())
}
