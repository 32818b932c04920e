package domain

import "time"

// Candle is a single OHLCV bar. Candles are immutable once produced and
// windows are always ordered ascending by timestamp.
type Candle struct {
	Time   int64   `json:"time"` // unix milliseconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func (c Candle) Timestamp() time.Time {
	return time.UnixMilli(c.Time)
}

// Closes extracts the close series from a window.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volume series from a window.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// MinWindow is the number of candles most components need before they
// produce a non-neutral result. Shorter windows degrade to hold.
const MinWindow = 100
