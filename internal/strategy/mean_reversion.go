package strategy

import (
	"fmt"
	"math"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/indicator"
)

type MeanReversionConfig struct {
	RSIPeriod     int
	RSIOversold   float64
	RSIOverbought float64

	BollingerPeriod int
	BollingerK      float64
	// BandProximityPct is how close (as a fraction of band half-width) price
	// must be to a band extreme before a reversion entry counts.
	BandProximityPct float64

	StopLossPct   float64
	TakeProfitPct float64

	MinWindow int
}

func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		RSIPeriod:        14,
		RSIOversold:      30,
		RSIOverbought:    70,
		BollingerPeriod:  20,
		BollingerK:       2.0,
		BandProximityPct: 0.15,
		StopLossPct:      1.5,
		TakeProfitPct:    3.0,
		MinWindow:        domain.MinWindow,
	}
}

// MeanReversion fades extremes: RSI oversold/overbought combined with price
// at a Bollinger band edge, targeting the band midpoint.
type MeanReversion struct {
	cfg MeanReversionConfig
}

func NewMeanReversion(cfg MeanReversionConfig) *MeanReversion {
	return &MeanReversion{cfg: cfg}
}

func (s *MeanReversion) Name() string { return "mean-reversion" }

func (s *MeanReversion) ExitPlan() ExitPlan {
	return ExitPlan{
		StopLossPct:   s.cfg.StopLossPct,
		TakeProfitPct: s.cfg.TakeProfitPct,
	}
}

func (s *MeanReversion) Evaluate(candles []domain.Candle) domain.Signal {
	if sig, short := holdShortWindow(len(candles), s.cfg.MinWindow); short {
		return sig
	}

	closes := domain.Closes(candles)
	price := closes[len(closes)-1]

	rsi, okR := indicator.Last(indicator.RSI(closes, s.cfg.RSIPeriod))
	bands := indicator.Bollinger(closes, s.cfg.BollingerPeriod, s.cfg.BollingerK)
	up, okU := indicator.Last(bands.Upper)
	low, okL := indicator.Last(bands.Lower)
	mid, okM := indicator.Last(bands.Middle)
	if !okR || !okU || !okL || !okM || up == low {
		return domain.Hold("indicators not ready")
	}

	halfWidth := (up - low) / 2
	nearLower := price <= low+halfWidth*s.cfg.BandProximityPct
	nearUpper := price >= up-halfWidth*s.cfg.BandProximityPct

	switch {
	case rsi <= s.cfg.RSIOversold && nearLower:
		conf := math.Min(50+(s.cfg.RSIOversold-rsi)*2, 95)
		return domain.Signal{
			Action:     domain.ActionBuy,
			Confidence: conf,
			Reason:     fmt.Sprintf("mean-reversion: RSI %.1f oversold at lower band, target midpoint %.4f", rsi, mid),
		}
	case rsi >= s.cfg.RSIOverbought && nearUpper:
		conf := math.Min(50+(rsi-s.cfg.RSIOverbought)*2, 95)
		return domain.Signal{
			Action:     domain.ActionSell,
			Confidence: conf,
			Reason:     fmt.Sprintf("mean-reversion: RSI %.1f overbought at upper band, target midpoint %.4f", rsi, mid),
		}
	}
	return domain.Hold("mean-reversion: no extreme to fade")
}

// Suitability favors low-trend, oscillating conditions: narrow bands and an
// RSI that keeps leaving the 40..60 midzone.
func (s *MeanReversion) Suitability(candles []domain.Candle) float64 {
	if len(candles) < s.cfg.MinWindow {
		return 0
	}
	closes := domain.Closes(candles)

	mom, okMom := indicator.Last(indicator.Momentum(closes, 10))
	if !okMom {
		return 0
	}
	// Strong directional drift argues against fading.
	trendPenalty := math.Min(math.Abs(mom)*20, 80)

	rsiSeries := indicator.RSI(closes, s.cfg.RSIPeriod)
	excursions := 0
	checked := 0
	for i := len(rsiSeries) - 20; i < len(rsiSeries); i++ {
		if i < 0 || !indicator.Valid(rsiSeries[i]) {
			continue
		}
		checked++
		if rsiSeries[i] < 40 || rsiSeries[i] > 60 {
			excursions++
		}
	}
	oscillation := 0.0
	if checked > 0 {
		oscillation = float64(excursions) / float64(checked) * 60
	}
	return math.Max(0, math.Min(40+oscillation-trendPenalty, 100))
}
