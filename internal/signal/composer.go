// Package signal composes individual indicator opinions into a single
// weighted buy/sell/hold decision.
package signal

import (
	"fmt"
	"math"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/indicator"
)

// Weights controls how much each indicator vote contributes. Volume never
// originates a vote, it only amplifies an existing one.
type Weights struct {
	SMACross  float64 `yaml:"sma_cross"`
	MACD      float64 `yaml:"macd"`
	RSI       float64 `yaml:"rsi"`
	Bollinger float64 `yaml:"bollinger"`
	Volume    float64 `yaml:"volume"`
}

func DefaultWeights() Weights {
	return Weights{SMACross: 1.0, MACD: 1.0, RSI: 0.9, Bollinger: 0.8, Volume: 0.5}
}

type Config struct {
	Weights Weights

	SMAShortPeriod int
	SMALongPeriod  int

	RSIPeriod     int
	RSIOversold   float64
	RSIOverbought float64

	MACDFast   int
	MACDSlow   int
	MACDSignal int

	BollingerPeriod int
	BollingerK      float64

	VolumeSpikePeriod int
	VolumeSpikeRatio  float64

	MinWindow int
}

func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		SMAShortPeriod:    10,
		SMALongPeriod:     30,
		RSIPeriod:         14,
		RSIOversold:       30,
		RSIOverbought:     70,
		MACDFast:          12,
		MACDSlow:          26,
		MACDSignal:        9,
		BollingerPeriod:   20,
		BollingerK:        2.0,
		VolumeSpikePeriod: 20,
		VolumeSpikeRatio:  1.5,
		MinWindow:         domain.MinWindow,
	}
}

type Composer struct {
	cfg Config
}

func NewComposer(cfg Config) *Composer {
	return &Composer{cfg: cfg}
}

// Evaluate produces a fresh weighted decision for the window. Windows
// shorter than the minimum always resolve to hold with zero confidence.
func (c *Composer) Evaluate(candles []domain.Candle) domain.Signal {
	if len(candles) < c.cfg.MinWindow {
		return domain.Hold(fmt.Sprintf("insufficient data: %d candles, need %d", len(candles), c.cfg.MinWindow))
	}

	closes := domain.Closes(candles)
	readings := []domain.IndicatorReading{
		c.smaCrossReading(closes),
		c.macdReading(closes),
		c.rsiReading(closes),
		c.bollingerReading(closes),
	}

	var buy, sell float64
	for _, r := range readings {
		if !r.Valid {
			continue
		}
		switch r.Signal {
		case domain.ActionBuy:
			buy += c.weightFor(r.Name) * r.Strength
		case domain.ActionSell:
			sell += c.weightFor(r.Name) * r.Strength
		}
	}

	// Volume amplifies whichever side is already winning.
	vol := c.volumeReading(candles)
	readings = append(readings, vol)
	if vol.Valid && vol.Strength > 0 {
		if buy > sell {
			buy += c.cfg.Weights.Volume * vol.Strength
		} else if sell > buy {
			sell += c.cfg.Weights.Volume * vol.Strength
		}
	}

	if buy == 0 && sell == 0 {
		return domain.Signal{Action: domain.ActionHold, Reason: "no indicator votes", Readings: readings}
	}
	if buy == sell {
		return domain.Signal{Action: domain.ActionHold, Reason: "buy and sell votes tied", Readings: readings}
	}

	action := domain.ActionBuy
	winning := buy
	if sell > buy {
		action = domain.ActionSell
		winning = sell
	}
	confidence := winning / (buy + sell) * 100

	return domain.Signal{
		Action:     action,
		Confidence: confidence,
		Reason:     fmt.Sprintf("weighted vote %s: buy=%.2f sell=%.2f", action, buy, sell),
		Readings:   readings,
	}
}

func (c *Composer) weightFor(name string) float64 {
	switch name {
	case "sma-cross":
		return c.cfg.Weights.SMACross
	case "macd":
		return c.cfg.Weights.MACD
	case "rsi":
		return c.cfg.Weights.RSI
	case "bollinger":
		return c.cfg.Weights.Bollinger
	}
	return 0
}

func (c *Composer) smaCrossReading(closes []float64) domain.IndicatorReading {
	short := indicator.SMA(closes, c.cfg.SMAShortPeriod)
	long := indicator.SMA(closes, c.cfg.SMALongPeriod)
	r := domain.IndicatorReading{Name: "sma-cross", Signal: domain.ActionHold}

	s, okS := indicator.Last(short)
	l, okL := indicator.Last(long)
	if !okS || !okL || l == 0 {
		return r
	}
	r.Valid = true
	r.Value = s - l

	gap := math.Abs(s-l) / l
	r.Strength = clamp01(gap / 0.02) // 2% gap counts as full strength
	if s > l {
		r.Signal = domain.ActionBuy
	} else if s < l {
		r.Signal = domain.ActionSell
	} else {
		r.Strength = 0
	}
	return r
}

func (c *Composer) macdReading(closes []float64) domain.IndicatorReading {
	res := indicator.MACD(closes, c.cfg.MACDFast, c.cfg.MACDSlow, c.cfg.MACDSignal)
	r := domain.IndicatorReading{Name: "macd", Signal: domain.ActionHold}

	m, okM := indicator.Last(res.MACD)
	s, okS := indicator.Last(res.Signal)
	if !okM || !okS {
		return r
	}
	price := closes[len(closes)-1]
	if price == 0 {
		return r
	}
	r.Valid = true
	r.Value = m - s

	r.Strength = clamp01(math.Abs(m-s) / price / 0.005)
	if m > s {
		r.Signal = domain.ActionBuy
	} else if m < s {
		r.Signal = domain.ActionSell
	} else {
		r.Strength = 0
	}
	return r
}

func (c *Composer) rsiReading(closes []float64) domain.IndicatorReading {
	series := indicator.RSI(closes, c.cfg.RSIPeriod)
	r := domain.IndicatorReading{Name: "rsi", Signal: domain.ActionHold}

	v, ok := indicator.Last(series)
	if !ok {
		return r
	}
	r.Valid = true
	r.Value = v

	switch {
	case v <= c.cfg.RSIOversold:
		r.Signal = domain.ActionBuy
		r.Strength = clamp01((c.cfg.RSIOversold - v) / c.cfg.RSIOversold)
	case v >= c.cfg.RSIOverbought:
		r.Signal = domain.ActionSell
		r.Strength = clamp01((v - c.cfg.RSIOverbought) / (100 - c.cfg.RSIOverbought))
	}
	return r
}

func (c *Composer) bollingerReading(closes []float64) domain.IndicatorReading {
	res := indicator.Bollinger(closes, c.cfg.BollingerPeriod, c.cfg.BollingerK)
	r := domain.IndicatorReading{Name: "bollinger", Signal: domain.ActionHold}

	up, okU := indicator.Last(res.Upper)
	low, okL := indicator.Last(res.Lower)
	mid, okM := indicator.Last(res.Middle)
	if !okU || !okL || !okM || up == low {
		return r
	}
	price := closes[len(closes)-1]
	r.Valid = true
	r.Value = (price - low) / (up - low) // band position 0..1

	if price <= low {
		r.Signal = domain.ActionBuy
		r.Strength = clamp01((low - price) / (mid - low))
	} else if price >= up {
		r.Signal = domain.ActionSell
		r.Strength = clamp01((price - up) / (up - mid))
	}
	return r
}

func (c *Composer) volumeReading(candles []domain.Candle) domain.IndicatorReading {
	r := domain.IndicatorReading{Name: "volume", Signal: domain.ActionHold}
	period := c.cfg.VolumeSpikePeriod
	if len(candles) < period+1 {
		return r
	}

	volumes := domain.Volumes(candles)
	avg := indicator.SMA(volumes[:len(volumes)-1], period)
	base, ok := indicator.Last(avg)
	if !ok || base == 0 {
		return r
	}
	current := volumes[len(volumes)-1]
	ratio := current / base

	r.Valid = true
	r.Value = ratio
	if ratio >= c.cfg.VolumeSpikeRatio {
		// Amplifier only: the composer assigns the direction.
		r.Strength = clamp01((ratio - 1) / c.cfg.VolumeSpikeRatio)
	}
	return r
}

// CrossIndex returns the first index where short rises above long after
// having been at or below it, or -1 when no such crossover exists.
func CrossIndex(short, long []float64) int {
	for i := 1; i < len(short) && i < len(long); i++ {
		if !indicator.Valid(short[i]) || !indicator.Valid(long[i]) ||
			!indicator.Valid(short[i-1]) || !indicator.Valid(long[i-1]) {
			continue
		}
		if short[i-1] <= long[i-1] && short[i] > long[i] {
			return i
		}
	}
	return -1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
