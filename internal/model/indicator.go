package model

import (
	"encoding/json"
	"time"
)

// FilterSettings is the output envelope of the candle-pattern filter node:
// a map of direction and position classifications keyed by the deterministic
// C{k} naming scheme.
type FilterSettings struct {
	Symbol    string            `json:"symbol"`
	Timestamp time.Time         `json:"timestamp"`
	Timeframe string            `json:"timeframe"`
	Filters   map[string]string `json:"filters"`
}

// JSON returns the JSON-encoded filter settings.
func (f *FilterSettings) JSON() []byte {
	b, _ := json.Marshal(f)
	return b
}
