package bus

// Topic names are mechanically derived from symbol and node identifiers.
// Symbol segments are sanitized so that subjects stay valid: any character
// outside [A-Za-z0-9_-] becomes an underscore.

// SanitizeSegment makes name safe for use as one subject segment.
func SanitizeSegment(name string) string {
	out := []byte(name)
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// TicksRaw returns the raw tick subject for a symbol.
func TicksRaw(symbol string) string {
	return "ticks.raw." + SanitizeSegment(symbol)
}

// AllTicks matches every symbol's raw tick subject.
func AllTicks() string {
	return "ticks.raw.*"
}

// Candles returns the completed-candle subject for a symbol and timeframe.
func Candles(symbol, timeframe string) string {
	return "candles." + SanitizeSegment(symbol) + "." + timeframe
}

// CandlesAll matches every timeframe for one symbol.
func CandlesAll(symbol string) string {
	return "candles." + SanitizeSegment(symbol) + ".*"
}

// AllCandles matches every candle subject.
func AllCandles() string {
	return "candles.>"
}

// Indicators returns the output subject for an indicator node.
func Indicators(symbol, indicatorID string) string {
	return "indicators." + SanitizeSegment(symbol) + "." + indicatorID
}

// StrategySignals returns the signal subject for a strategy node.
func StrategySignals(symbol, strategyID string) string {
	return "strategies.signals." + SanitizeSegment(symbol) + "." + strategyID
}
