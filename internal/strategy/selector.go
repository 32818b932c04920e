package strategy

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/regime"
)

type SelectorConfig struct {
	AutoSwitch bool
	// MinRegimeConfidence is the floor below which the selector falls back
	// to the conservative multi-indicator strategy.
	MinRegimeConfidence float64
	DefaultStrategy     string
}

func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		AutoSwitch:          true,
		MinRegimeConfidence: 60,
		DefaultStrategy:     regime.StrategyMultiIndicator,
	}
}

// Selector maps the current regime to the active strategy variant. It holds
// the variant as an interface value; callers never switch on names.
type Selector struct {
	cfg        SelectorConfig
	classifier *regime.Classifier
	strategies map[string]Strategy
	fallback   Strategy
	logger     *zap.Logger

	mu      sync.Mutex
	forced  Strategy
	current map[string]Strategy // per symbol
}

// NewSelector wires the five variants. fallback must be registered under the
// multi-indicator name.
func NewSelector(cfg SelectorConfig, classifier *regime.Classifier, strategies []Strategy, logger *zap.Logger) (*Selector, error) {
	byName := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		byName[s.Name()] = s
	}
	fallback, ok := byName[regime.StrategyMultiIndicator]
	if !ok {
		return nil, fmt.Errorf("selector requires a %q strategy", regime.StrategyMultiIndicator)
	}
	return &Selector{
		cfg:        cfg,
		classifier: classifier,
		strategies: byName,
		fallback:   fallback,
		logger:     logger,
		current:    make(map[string]Strategy),
	}, nil
}

// Select returns the strategy to run for the symbol right now, plus the
// regime assessment that drove the choice. A nil strategy means sit out
// (choppy market with no recommended heuristic).
func (s *Selector) Select(symbol string, candles []domain.Candle) (Strategy, domain.RegimeAssessment) {
	assessment, change := s.classifier.Assess(symbol, candles)

	s.mu.Lock()
	defer s.mu.Unlock()

	var chosen Strategy
	switch {
	case s.forced != nil:
		chosen = s.forced
	case !s.cfg.AutoSwitch:
		chosen = s.strategies[s.cfg.DefaultStrategy]
		if chosen == nil {
			chosen = s.fallback
		}
	case assessment.Confidence < s.cfg.MinRegimeConfidence:
		chosen = s.fallback
	case assessment.RecommendedStrategy == regime.StrategyNone:
		chosen = nil
	default:
		var ok bool
		chosen, ok = s.strategies[assessment.RecommendedStrategy]
		if !ok {
			chosen = s.fallback
		}
	}

	prev := s.current[symbol]
	if prev != chosen {
		if grid, ok := prev.(*Grid); ok {
			grid.Reset()
		}
		s.current[symbol] = chosen
		if change != nil && change.SwitchStrategy {
			s.logger.Info("strategy switched",
				zap.String("symbol", symbol),
				zap.String("from", nameOf(prev)),
				zap.String("to", nameOf(chosen)),
				zap.String("regime", string(assessment.Type)))
		}
	}
	return chosen, assessment
}

// Force pins all symbols to the named strategy until ClearForce.
func (s *Selector) Force(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[name]
	if !ok {
		return fmt.Errorf("unknown strategy %q", name)
	}
	s.forced = st
	return nil
}

func (s *Selector) ClearForce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced = nil
}

// Current reports the active strategy name for the symbol, empty when
// sitting out.
func (s *Selector) Current(symbol string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nameOf(s.current[symbol])
}

func nameOf(st Strategy) string {
	if st == nil {
		return ""
	}
	return st.Name()
}
