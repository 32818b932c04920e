// Package regime scores trend, volatility and ranging behaviour from a
// candle window and maps the result to a recommended strategy. Assessments
// are cached per symbol and only recomputed on a fixed wall-clock cadence to
// avoid strategy thrashing.
package regime

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/indicator"
)

// Strategy names recommended per regime.
const (
	StrategyMomentum       = "momentum"
	StrategyMeanReversion  = "mean-reversion"
	StrategyGrid           = "grid-trading"
	StrategyScalping       = "scalping"
	StrategyMultiIndicator = "multi-indicator"
	StrategyNone           = ""
)

type Config struct {
	Cadence time.Duration

	EMAShort  int
	EMAMedium int
	EMALong   int

	MomentumPeriod int
	ATRPeriod      int

	// Volatility buckets as % of price. Hand-tuned in the source system;
	// kept configurable rather than load-bearing.
	VolLowPct  float64
	VolHighPct float64

	RangingBars            int
	RangingMinCrossings    int
	RangingMaxDeviationPct float64

	StrongTrendScore float64
	WeakTrendScore   float64

	MinWindow int
}

func DefaultConfig() Config {
	return Config{
		Cadence:                5 * time.Minute,
		EMAShort:               20,
		EMAMedium:              50,
		EMALong:                100,
		MomentumPeriod:         10,
		ATRPeriod:              14,
		VolLowPct:              0.5,
		VolHighPct:             3.0,
		RangingBars:            50,
		RangingMinCrossings:    5,
		RangingMaxDeviationPct: 3.0,
		StrongTrendScore:       70,
		WeakTrendScore:         50,
		MinWindow:              domain.MinWindow,
	}
}

type Classifier struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	cached map[string]domain.RegimeAssessment
	now    func() time.Time // injected for cadence tests
}

func NewClassifier(cfg Config, logger *zap.Logger) *Classifier {
	return &Classifier{
		cfg:    cfg,
		logger: logger,
		cached: make(map[string]domain.RegimeAssessment),
		now:    time.Now,
	}
}

// Assess returns the current regime for the symbol, reusing the cached
// assessment while it is within the cadence. The returned change is non-nil
// only when a recomputation produced a different regime.
func (c *Classifier) Assess(symbol string, candles []domain.Candle) (domain.RegimeAssessment, *domain.RegimeChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if prev, ok := c.cached[symbol]; ok && now.Sub(prev.EvaluatedAt) < c.cfg.Cadence {
		return prev, nil
	}

	assessment := c.classify(candles)
	assessment.EvaluatedAt = now

	var change *domain.RegimeChange
	if prev, ok := c.cached[symbol]; ok && prev.Type != assessment.Type {
		change = &domain.RegimeChange{
			Previous:         prev.Type,
			Current:          assessment.Type,
			PreviousStrategy: prev.RecommendedStrategy,
			CurrentStrategy:  assessment.RecommendedStrategy,
			SwitchStrategy:   prev.RecommendedStrategy != assessment.RecommendedStrategy,
		}
		c.logger.Info("regime changed",
			zap.String("symbol", symbol),
			zap.String("from", string(prev.Type)),
			zap.String("to", string(assessment.Type)),
			zap.Float64("confidence", assessment.Confidence))
	}
	c.cached[symbol] = assessment
	return assessment, change
}

// classify runs the prioritized regime rules over a fresh set of sub-scores.
func (c *Classifier) classify(candles []domain.Candle) domain.RegimeAssessment {
	if len(candles) < c.cfg.MinWindow {
		return domain.RegimeAssessment{
			Type:                domain.RegimeChoppy,
			Confidence:          0,
			RecommendedStrategy: StrategyNone,
		}
	}

	closes := domain.Closes(candles)
	trendScore, trendUp := c.trendScore(closes)
	volBucket := c.volatilityBucket(candles, closes)
	ranging := c.isRanging(closes)

	a := domain.RegimeAssessment{
		TrendScore: trendScore,
		Volatility: volBucket,
		Ranging:    ranging,
	}

	switch {
	case trendScore > c.cfg.StrongTrendScore:
		a.Type = trendType(trendUp)
		a.Confidence = trendScore
		a.RecommendedStrategy = StrategyMomentum
	case volBucket == domain.VolatilityHigh && ranging:
		a.Type = domain.RegimeVolatile
		a.Confidence = 70
		a.RecommendedStrategy = StrategyGrid
	case ranging:
		a.Type = domain.RegimeRanging
		a.Confidence = 65
		a.RecommendedStrategy = StrategyMeanReversion
	case trendScore > c.cfg.WeakTrendScore:
		a.Type = trendType(trendUp)
		a.Confidence = trendScore * 0.8
		a.RecommendedStrategy = StrategyMomentum
	default:
		a.Type = domain.RegimeChoppy
		a.Confidence = 40
		a.RecommendedStrategy = StrategyNone
	}
	return a
}

func trendType(up bool) domain.RegimeType {
	if up {
		return domain.RegimeTrendingUp
	}
	return domain.RegimeTrendingDown
}

// trendScore combines EMA alignment with momentum magnitude into 0..100.
func (c *Classifier) trendScore(closes []float64) (score float64, up bool) {
	short, okS := indicator.Last(indicator.EMA(closes, c.cfg.EMAShort))
	medium, okM := indicator.Last(indicator.EMA(closes, c.cfg.EMAMedium))
	long, okL := indicator.Last(indicator.EMA(closes, c.cfg.EMALong))
	if !okS || !okM || !okL {
		return 0, false
	}

	alignment := 0.0
	switch {
	case short > medium && medium > long:
		alignment = 50
		up = true
	case short < medium && medium < long:
		alignment = 50
		up = false
	case short > long:
		alignment = 25
		up = true
	default:
		alignment = 25
		up = false
	}

	mom, okMom := indicator.Last(indicator.Momentum(closes, c.cfg.MomentumPeriod))
	momScore := 0.0
	if okMom {
		momScore = math.Min(math.Abs(mom)*10, 50)
	}
	return alignment + momScore, up
}

// volatilityBucket buckets ATR and band width as % of price.
func (c *Classifier) volatilityBucket(candles []domain.Candle, closes []float64) domain.VolatilityBucket {
	price := closes[len(closes)-1]
	if price == 0 {
		return domain.VolatilityModerate
	}

	atr, okA := indicator.Last(indicator.ATR(candles, c.cfg.ATRPeriod))
	bands := indicator.Bollinger(closes, 20, 2.0)
	up, okU := indicator.Last(bands.Upper)
	low, okL := indicator.Last(bands.Lower)

	var pct float64
	samples := 0
	if okA {
		pct += atr / price * 100
		samples++
	}
	if okU && okL {
		pct += (up - low) / price * 100 / 4 // band width spans ~4 sigma
		samples++
	}
	if samples == 0 {
		return domain.VolatilityModerate
	}
	pct /= float64(samples)

	switch {
	case pct < c.cfg.VolLowPct:
		return domain.VolatilityLow
	case pct > c.cfg.VolHighPct:
		return domain.VolatilityHigh
	default:
		return domain.VolatilityModerate
	}
}

// isRanging counts mean crossings over the trailing bars and requires price
// to stay within a bounded deviation of the mean.
func (c *Classifier) isRanging(closes []float64) bool {
	bars := c.cfg.RangingBars
	if len(closes) < bars {
		return false
	}
	window := closes[len(closes)-bars:]

	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(bars)
	if mean == 0 {
		return false
	}

	crossings := 0
	above := window[0] > mean
	maxDeviation := 0.0
	for _, v := range window {
		nowAbove := v > mean
		if nowAbove != above {
			crossings++
			above = nowAbove
		}
		dev := math.Abs(v-mean) / mean * 100
		if dev > maxDeviation {
			maxDeviation = dev
		}
	}
	return crossings >= c.cfg.RangingMinCrossings && maxDeviation <= c.cfg.RangingMaxDeviationPct
}

// SetClock replaces the wall clock, for tests.
func (c *Classifier) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
