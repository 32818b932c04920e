package strategy

import (
	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/signal"
)

// MultiIndicator is the conservative fallback: it delegates to the weighted
// signal composer with every indicator enabled and no strategy-specific
// tuning.
type MultiIndicator struct {
	composer *signal.Composer
}

func NewMultiIndicator(cfg signal.Config) *MultiIndicator {
	return &MultiIndicator{composer: signal.NewComposer(cfg)}
}

func (s *MultiIndicator) Name() string { return "multi-indicator" }

func (s *MultiIndicator) ExitPlan() ExitPlan {
	return ExitPlan{StopLossPct: 2.0, TakeProfitPct: 4.0}
}

func (s *MultiIndicator) Evaluate(candles []domain.Candle) domain.Signal {
	return s.composer.Evaluate(candles)
}

// Suitability is a flat baseline: the fallback is always a reasonable, never
// a great, fit.
func (s *MultiIndicator) Suitability(candles []domain.Candle) float64 {
	if len(candles) < domain.MinWindow {
		return 0
	}
	return 50
}
