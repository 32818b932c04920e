// Package indicator holds pure numeric transforms over ordered price series.
// Every function returns a slice of the input length, left-padded with NaN
// until enough history exists. The same functions back the live decision
// loops and the backtest replay, so results must stay deterministic for a
// given input window.
package indicator

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/vitos/crypto_trade_engine/internal/domain"
)

// Valid reports whether a series value has been computed.
func Valid(v float64) bool {
	return !math.IsNaN(v)
}

// Last returns the final value of a series and whether it is valid.
func Last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return math.NaN(), false
	}
	v := series[len(series)-1]
	return v, Valid(v)
}

func padded(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is a simple moving average maintained with a trailing sum.
func SMA(values []float64, period int) []float64 {
	out := padded(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA seeds with the simple average of the first period values, then applies
// the standard recursive multiplier 2/(period+1).
func EMA(values []float64, period int) []float64 {
	out := padded(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	out[period-1] = seed

	k := 2.0 / (float64(period) + 1.0)
	prev := seed
	for i := period; i < len(values); i++ {
		prev = (values[i]-prev)*k + prev
		out[i] = prev
	}
	return out
}

// RSI uses Wilder smoothing: the average gain/loss over the first period
// changes seeds the running averages, then (avg*(period-1)+new)/period.
// Zero average loss resolves to RSI 100.
func RSI(values []float64, period int) []float64 {
	out := padded(len(values))
	if period <= 0 || len(values) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50 // no movement either way
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult carries the MACD line, its signal line and the histogram.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD is the difference of two EMAs with a signal line as an EMA of that
// difference.
func MACD(values []float64, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	n := len(values)
	res := MACDResult{MACD: padded(n), Signal: padded(n), Histogram: padded(n)}
	if n < slowPeriod {
		return res
	}

	fast := EMA(values, fastPeriod)
	slow := EMA(values, slowPeriod)
	for i := range values {
		if Valid(fast[i]) && Valid(slow[i]) {
			res.MACD[i] = fast[i] - slow[i]
		}
	}

	// Signal line: EMA over the valid portion of the MACD line.
	start := slowPeriod - 1
	if start >= n {
		return res
	}
	sig := EMA(res.MACD[start:], signalPeriod)
	for i, v := range sig {
		res.Signal[start+i] = v
		if Valid(v) && Valid(res.MACD[start+i]) {
			res.Histogram[start+i] = res.MACD[start+i] - v
		}
	}
	return res
}

// BollingerResult carries the three bands.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger is a moving average with bands at k standard deviations over the
// same trailing window.
func Bollinger(values []float64, period int, k float64) BollingerResult {
	n := len(values)
	res := BollingerResult{Upper: padded(n), Middle: padded(n), Lower: padded(n)}
	if period <= 0 || n < period {
		return res
	}
	for i := period - 1; i < n; i++ {
		window := values[i-period+1 : i+1]
		mean, err := stats.Mean(window)
		if err != nil {
			continue
		}
		sd, err := stats.StandardDeviation(window)
		if err != nil {
			continue
		}
		res.Middle[i] = mean
		res.Upper[i] = mean + k*sd
		res.Lower[i] = mean - k*sd
	}
	return res
}

// ATR computes the Wilder-smoothed average true range, where true range is
// the max of high-low, |high-prevClose| and |low-prevClose|.
func ATR(candles []domain.Candle, period int) []float64 {
	out := padded(len(candles))
	if period <= 0 || len(candles) < period+1 {
		return out
	}

	tr := make([]float64, len(candles))
	tr[0] = candles[0].High - candles[0].Low
	for i := 1; i < len(candles); i++ {
		c := candles[i]
		prevClose := candles[i-1].Close
		tr[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}

	var seed float64
	for i := 1; i <= period; i++ {
		seed += tr[i]
	}
	seed /= float64(period)
	out[period] = seed

	prev := seed
	for i := period + 1; i < len(candles); i++ {
		prev = (prev*float64(period-1) + tr[i]) / float64(period)
		out[i] = prev
	}
	return out
}

// Momentum is the percent change versus the value period bars back.
func Momentum(values []float64, period int) []float64 {
	out := padded(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}
	for i := period; i < len(values); i++ {
		base := values[i-period]
		if base == 0 {
			continue
		}
		out[i] = (values[i] - base) / base * 100
	}
	return out
}

// Volatility is the trailing standard deviation of the raw values.
func Volatility(values []float64, period int) []float64 {
	out := padded(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		sd, err := stats.StandardDeviation(values[i-period+1 : i+1])
		if err != nil {
			continue
		}
		out[i] = sd
	}
	return out
}
