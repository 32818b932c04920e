package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/indicator"
)

type ScalpingConfig struct {
	EMAFast    int
	EMASlow    int
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int

	VolumePeriod     int
	VolumeSpikeRatio float64

	BreakoutBars int

	StopLossPct   float64
	TakeProfitPct float64
	MaxHold       time.Duration

	MinWindow int
}

func DefaultScalpingConfig() ScalpingConfig {
	return ScalpingConfig{
		EMAFast:          9,
		EMASlow:          21,
		RSIPeriod:        7,
		MACDFast:         8,
		MACDSlow:         17,
		MACDSignal:       9,
		VolumePeriod:     20,
		VolumeSpikeRatio: 1.5,
		BreakoutBars:     20,
		StopLossPct:      0.5,
		TakeProfitPct:    1.0,
		MaxHold:          30 * time.Minute,
		MinWindow:        domain.MinWindow,
	}
}

// Scalping takes fast intraday entries off short EMAs, a 7-period RSI and a
// fast MACD, gated by a volume spike. Three sub-triggers fire independently:
// range breakout, RSI bounce and EMA cross.
type Scalping struct {
	cfg ScalpingConfig
}

func NewScalping(cfg ScalpingConfig) *Scalping {
	return &Scalping{cfg: cfg}
}

func (s *Scalping) Name() string { return "scalping" }

func (s *Scalping) ExitPlan() ExitPlan {
	return ExitPlan{
		StopLossPct:   s.cfg.StopLossPct,
		TakeProfitPct: s.cfg.TakeProfitPct,
		MaxHold:       s.cfg.MaxHold,
	}
}

func (s *Scalping) Evaluate(candles []domain.Candle) domain.Signal {
	if sig, short := holdShortWindow(len(candles), s.cfg.MinWindow); short {
		return sig
	}

	if !s.volumeSpike(candles) {
		return domain.Hold("scalping: no volume spike")
	}

	closes := domain.Closes(candles)
	price := closes[len(closes)-1]

	fast := indicator.EMA(closes, s.cfg.EMAFast)
	slow := indicator.EMA(closes, s.cfg.EMASlow)
	rsi, okR := indicator.Last(indicator.RSI(closes, s.cfg.RSIPeriod))
	macd := indicator.MACD(closes, s.cfg.MACDFast, s.cfg.MACDSlow, s.cfg.MACDSignal)
	macdLine, okM := indicator.Last(macd.MACD)
	macdSig, okS := indicator.Last(macd.Signal)
	if !okR || !okM || !okS {
		return domain.Hold("scalping: indicators not ready")
	}
	macdBull := macdLine > macdSig
	macdBear := macdLine < macdSig

	// Sub-trigger 1: breakout over the recent range high/low.
	high, low := recentRange(candles[:len(candles)-1], s.cfg.BreakoutBars)
	if price > high && macdBull {
		return scalpSignal(domain.ActionBuy, 80, fmt.Sprintf("scalping: breakout above %.4f with fast MACD bullish", high))
	}
	if price < low && macdBear {
		return scalpSignal(domain.ActionSell, 80, fmt.Sprintf("scalping: breakdown below %.4f with fast MACD bearish", low))
	}

	// Sub-trigger 2: RSI bounce off an intraday extreme.
	if rsi <= 25 && macdBull {
		return scalpSignal(domain.ActionBuy, 70, fmt.Sprintf("scalping: RSI(%d) bounce from %.1f", s.cfg.RSIPeriod, rsi))
	}
	if rsi >= 75 && macdBear {
		return scalpSignal(domain.ActionSell, 70, fmt.Sprintf("scalping: RSI(%d) fade from %.1f", s.cfg.RSIPeriod, rsi))
	}

	// Sub-trigger 3: fresh fast/slow EMA cross.
	if n := len(fast); n >= 2 && indicator.Valid(fast[n-2]) && indicator.Valid(slow[n-2]) {
		f0, s0 := fast[n-2], slow[n-2]
		f1, s1 := fast[n-1], slow[n-1]
		if f0 <= s0 && f1 > s1 {
			return scalpSignal(domain.ActionBuy, 65, fmt.Sprintf("scalping: EMA%d crossed above EMA%d", s.cfg.EMAFast, s.cfg.EMASlow))
		}
		if f0 >= s0 && f1 < s1 {
			return scalpSignal(domain.ActionSell, 65, fmt.Sprintf("scalping: EMA%d crossed below EMA%d", s.cfg.EMAFast, s.cfg.EMASlow))
		}
	}

	return domain.Hold("scalping: no trigger")
}

func scalpSignal(action domain.Action, confidence float64, reason string) domain.Signal {
	return domain.Signal{Action: action, Confidence: confidence, Reason: reason}
}

func recentRange(candles []domain.Candle, bars int) (high, low float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	start := len(candles) - bars
	if start < 0 {
		start = 0
	}
	high, low = candles[start].High, candles[start].Low
	for _, c := range candles[start:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

func (s *Scalping) volumeSpike(candles []domain.Candle) bool {
	volumes := domain.Volumes(candles)
	if len(volumes) < s.cfg.VolumePeriod+1 {
		return false
	}
	avg, ok := indicator.Last(indicator.SMA(volumes[:len(volumes)-1], s.cfg.VolumePeriod))
	if !ok || avg == 0 {
		return false
	}
	return volumes[len(volumes)-1] >= avg*s.cfg.VolumeSpikeRatio
}

// Suitability wants activity: spiking volume and enough short-term movement
// to cover tight stops.
func (s *Scalping) Suitability(candles []domain.Candle) float64 {
	if len(candles) < s.cfg.MinWindow {
		return 0
	}
	closes := domain.Closes(candles)
	price := closes[len(closes)-1]
	if price == 0 {
		return 0
	}

	score := 0.0
	if s.volumeSpike(candles) {
		score += 40
	}
	if atr, ok := indicator.Last(indicator.ATR(candles, 14)); ok {
		atrPct := atr / price * 100
		score += math.Min(atrPct*60, 60)
	}
	return math.Min(score, 100)
}
