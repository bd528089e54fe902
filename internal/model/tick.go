package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tick represents a single price observation from the ingestion feed.
// Volume, Bid and Ask are optional and stay nil when the feed omits them.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    *float64  `json:"volume"`
	Bid       *float64  `json:"bid"`
	Ask       *float64  `json:"ask"`
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// VolumeOrZero returns the tick volume, treating a missing volume as 0.
func (t *Tick) VolumeOrZero() float64 {
	if t.Volume == nil {
		return 0
	}
	return *t.Volume
}

// ParseTick decodes and validates a tick payload.
func ParseTick(data []byte) (Tick, error) {
	var t Tick
	if err := json.Unmarshal(data, &t); err != nil {
		return Tick{}, fmt.Errorf("decode tick: %w", err)
	}
	if t.Symbol == "" {
		return Tick{}, fmt.Errorf("decode tick: missing symbol")
	}
	if t.Timestamp.IsZero() {
		return Tick{}, fmt.Errorf("decode tick: missing timestamp")
	}
	return t, nil
}
