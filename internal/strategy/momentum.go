package strategy

import (
	"fmt"
	"math"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/indicator"
)

type MomentumConfig struct {
	EMAPeriod      int
	MomentumPeriod int
	MACDFast       int
	MACDSlow       int
	MACDSignal     int
	VolumePeriod   int
	VolumeRatio    float64
	MinMomentumPct float64

	StopLossPct   float64
	TakeProfitPct float64
	TrailingPct   float64

	MinWindow int
}

func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		EMAPeriod:      21,
		MomentumPeriod: 10,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		VolumePeriod:   20,
		VolumeRatio:    1.2,
		MinMomentumPct: 1.0,
		StopLossPct:    2.5,
		TakeProfitPct:  6.0,
		TrailingPct:    1.5,
		MinWindow:      domain.MinWindow,
	}
}

// Momentum rides established trends: MACD direction, price versus EMA,
// momentum magnitude and volume confirmation all have to line up.
type Momentum struct {
	cfg MomentumConfig
}

func NewMomentum(cfg MomentumConfig) *Momentum {
	return &Momentum{cfg: cfg}
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) ExitPlan() ExitPlan {
	return ExitPlan{
		StopLossPct:   s.cfg.StopLossPct,
		TakeProfitPct: s.cfg.TakeProfitPct,
		Trailing:      true,
		TrailingPct:   s.cfg.TrailingPct,
		UseLadder:     true,
	}
}

func (s *Momentum) Evaluate(candles []domain.Candle) domain.Signal {
	if sig, short := holdShortWindow(len(candles), s.cfg.MinWindow); short {
		return sig
	}

	closes := domain.Closes(candles)
	price := closes[len(closes)-1]

	macd := indicator.MACD(closes, s.cfg.MACDFast, s.cfg.MACDSlow, s.cfg.MACDSignal)
	macdLine, okM := indicator.Last(macd.MACD)
	macdSig, okS := indicator.Last(macd.Signal)
	ema, okE := indicator.Last(indicator.EMA(closes, s.cfg.EMAPeriod))
	mom, okMom := indicator.Last(indicator.Momentum(closes, s.cfg.MomentumPeriod))
	if !okM || !okS || !okE || !okMom {
		return domain.Hold("indicators not ready")
	}

	volumeOK := s.volumeConfirms(candles)

	bullish := macdLine > macdSig && price > ema && mom >= s.cfg.MinMomentumPct
	bearish := macdLine < macdSig && price < ema && mom <= -s.cfg.MinMomentumPct

	switch {
	case bullish && volumeOK:
		conf := math.Min(50+math.Abs(mom)*5, 95)
		return domain.Signal{
			Action:     domain.ActionBuy,
			Confidence: conf,
			Reason:     fmt.Sprintf("momentum: MACD bullish, price above EMA%d, momentum %.2f%%, volume confirmed", s.cfg.EMAPeriod, mom),
		}
	case bearish && volumeOK:
		conf := math.Min(50+math.Abs(mom)*5, 95)
		return domain.Signal{
			Action:     domain.ActionSell,
			Confidence: conf,
			Reason:     fmt.Sprintf("momentum: MACD bearish, price below EMA%d, momentum %.2f%%, volume confirmed", s.cfg.EMAPeriod, mom),
		}
	}
	return domain.Hold("momentum: conditions not aligned")
}

func (s *Momentum) volumeConfirms(candles []domain.Candle) bool {
	volumes := domain.Volumes(candles)
	if len(volumes) < s.cfg.VolumePeriod+1 {
		return false
	}
	avg, ok := indicator.Last(indicator.SMA(volumes[:len(volumes)-1], s.cfg.VolumePeriod))
	if !ok || avg == 0 {
		return false
	}
	return volumes[len(volumes)-1] >= avg*s.cfg.VolumeRatio
}

// Suitability is high when the market actually trends: momentum magnitude
// plus directional agreement between MACD and price/EMA.
func (s *Momentum) Suitability(candles []domain.Candle) float64 {
	if len(candles) < s.cfg.MinWindow {
		return 0
	}
	closes := domain.Closes(candles)
	price := closes[len(closes)-1]

	mom, okMom := indicator.Last(indicator.Momentum(closes, s.cfg.MomentumPeriod))
	ema, okE := indicator.Last(indicator.EMA(closes, s.cfg.EMAPeriod))
	if !okMom || !okE {
		return 0
	}

	score := math.Min(math.Abs(mom)*15, 60)
	if (mom > 0 && price > ema) || (mom < 0 && price < ema) {
		score += 40
	}
	return math.Min(score, 100)
}
