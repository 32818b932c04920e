package strategy

import (
	"fmt"
	"math"
	"sync"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/indicator"
)

type GridConfig struct {
	LevelsPerSide  int
	ATRPeriod      int
	SpacingATRMult float64
	// MinSpacingPct floors the ATR-derived spacing so quiet markets still get
	// tradable gaps between levels.
	MinSpacingPct     float64
	BoundsPct         float64
	PerLevelTargetPct float64

	MinWindow int
}

func DefaultGridConfig() GridConfig {
	return GridConfig{
		LevelsPerSide:     3,
		ATRPeriod:         14,
		SpacingATRMult:    1.0,
		MinSpacingPct:     0.4,
		BoundsPct:         5.0,
		PerLevelTargetPct: 1.0,
		MinWindow:         domain.MinWindow,
	}
}

type gridLevel struct {
	price  float64
	filled bool
}

// Grid places symmetric buy/sell levels around a center price spaced by an
// ATR-derived percentage, fills levels as price crosses them and signals a
// full exit when price breaks the grid bounds. The grid itself is the only
// stateful strategy; its state is guarded for concurrent evaluation.
type Grid struct {
	cfg GridConfig

	mu         sync.Mutex
	center     float64
	spacingPct float64
	buyLevels  []gridLevel
	sellLevels []gridLevel
}

func NewGrid(cfg GridConfig) *Grid {
	return &Grid{cfg: cfg}
}

func (s *Grid) Name() string { return "grid-trading" }

func (s *Grid) ExitPlan() ExitPlan {
	return ExitPlan{
		StopLossPct:   s.cfg.BoundsPct,
		TakeProfitPct: s.cfg.PerLevelTargetPct,
	}
}

func (s *Grid) Evaluate(candles []domain.Candle) domain.Signal {
	if sig, short := holdShortWindow(len(candles), s.cfg.MinWindow); short {
		return sig
	}

	price := candles[len(candles)-1].Close
	if price <= 0 {
		return domain.Hold("grid: no price")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.center == 0 {
		s.rebuild(price, candles)
		return domain.Hold(fmt.Sprintf("grid: placed %d levels around %.4f, spacing %.2f%%", s.cfg.LevelsPerSide*2, s.center, s.spacingPct))
	}

	// Bounds breakout exits everything and re-centers.
	upperBound := s.center * (1 + s.cfg.BoundsPct/100)
	lowerBound := s.center * (1 - s.cfg.BoundsPct/100)
	if price >= upperBound || price <= lowerBound {
		s.rebuild(price, candles)
		return domain.Signal{
			Action:     domain.ActionSell,
			Confidence: 90,
			Reason:     fmt.Sprintf("grid: price %.4f broke ±%.1f%% bounds around %.4f, exiting grid", price, s.cfg.BoundsPct, s.center),
		}
	}

	for i := range s.buyLevels {
		lv := &s.buyLevels[i]
		if !lv.filled && price <= lv.price {
			lv.filled = true
			return domain.Signal{
				Action:     domain.ActionBuy,
				Confidence: 70,
				Reason:     fmt.Sprintf("grid: buy level %.4f filled at %.4f", lv.price, price),
			}
		}
	}
	for i := range s.sellLevels {
		lv := &s.sellLevels[i]
		if !lv.filled && price >= lv.price {
			lv.filled = true
			return domain.Signal{
				Action:     domain.ActionSell,
				Confidence: 70,
				Reason:     fmt.Sprintf("grid: sell level %.4f filled at %.4f", lv.price, price),
			}
		}
	}
	return domain.Hold("grid: price between levels")
}

// rebuild re-centers the grid on price with ATR-derived spacing. Caller
// holds the lock.
func (s *Grid) rebuild(price float64, candles []domain.Candle) {
	spacing := s.cfg.MinSpacingPct
	if atr, ok := indicator.Last(indicator.ATR(candles, s.cfg.ATRPeriod)); ok && price > 0 {
		derived := atr / price * 100 * s.cfg.SpacingATRMult
		if derived > spacing {
			spacing = derived
		}
	}

	s.center = price
	s.spacingPct = spacing
	s.buyLevels = s.buyLevels[:0]
	s.sellLevels = s.sellLevels[:0]
	for i := 1; i <= s.cfg.LevelsPerSide; i++ {
		step := spacing / 100 * float64(i)
		s.buyLevels = append(s.buyLevels, gridLevel{price: price * (1 - step)})
		s.sellLevels = append(s.sellLevels, gridLevel{price: price * (1 + step)})
	}
}

// Suitability wants volatility without direction: decent ATR, weak momentum.
func (s *Grid) Suitability(candles []domain.Candle) float64 {
	if len(candles) < s.cfg.MinWindow {
		return 0
	}
	closes := domain.Closes(candles)
	price := closes[len(closes)-1]
	if price == 0 {
		return 0
	}

	atr, okA := indicator.Last(indicator.ATR(candles, s.cfg.ATRPeriod))
	mom, okM := indicator.Last(indicator.Momentum(closes, 10))
	if !okA || !okM {
		return 0
	}

	atrPct := atr / price * 100
	volScore := math.Min(atrPct*40, 70)
	trendPenalty := math.Min(math.Abs(mom)*15, 70)
	return math.Max(0, math.Min(30+volScore-trendPenalty, 100))
}

// Reset drops all grid state, used when the selector moves away from grid
// trading so a later return starts from a fresh center.
func (s *Grid) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.center = 0
	s.buyLevels = nil
	s.sellLevels = nil
}
