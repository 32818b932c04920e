// Package strategy holds the regime-specialized trading heuristics and the
// selector that routes between them.
package strategy

import (
	"time"

	"github.com/vitos/crypto_trade_engine/internal/domain"
)

// ExitPlan carries the exit parameters a strategy wants applied to positions
// it opens. Percentages are relative to the entry price.
type ExitPlan struct {
	StopLossPct   float64
	TakeProfitPct float64
	Trailing      bool
	TrailingPct   float64
	UseLadder     bool
	MaxHold       time.Duration // zero means unbounded
}

// Strategy is a single heuristic over a candle window. Evaluate must never
// fail on short windows; it degrades to hold.
type Strategy interface {
	Name() string
	Evaluate(candles []domain.Candle) domain.Signal
	// Suitability scores 0..100 how well current conditions fit this
	// strategy, independent of the regime routing that picked it.
	Suitability(candles []domain.Candle) float64
	ExitPlan() ExitPlan
}

func holdShortWindow(n, min int) (domain.Signal, bool) {
	if n < min {
		return domain.Hold("insufficient data for evaluation"), true
	}
	return domain.Signal{}, false
}
