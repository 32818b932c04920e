package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitos/crypto_trade_engine/internal/domain"
)

func gridWindow(lastClose float64) []domain.Candle {
	closes := flatCloses(120, 100)
	closes[len(closes)-1] = lastClose
	return candlesFromCloses(closes)
}

func TestGrid_FirstEvaluationPlacesLevels(t *testing.T) {
	s := NewGrid(DefaultGridConfig())

	sig := s.Evaluate(gridWindow(100))

	assert.Equal(t, domain.ActionHold, sig.Action)
	assert.Contains(t, sig.Reason, "placed")
}

func TestGrid_BuyLevelFill(t *testing.T) {
	s := NewGrid(DefaultGridConfig())
	s.Evaluate(gridWindow(100))

	sig := s.Evaluate(gridWindow(99.0)) // -1%, through the first buy level

	assert.Equal(t, domain.ActionBuy, sig.Action)
	assert.Contains(t, sig.Reason, "buy level")

	// The same level does not fill twice.
	again := s.Evaluate(gridWindow(99.0))
	assert.NotEqual(t, sig.Reason, again.Reason)
}

func TestGrid_SellLevelFill(t *testing.T) {
	s := NewGrid(DefaultGridConfig())
	s.Evaluate(gridWindow(100))

	sig := s.Evaluate(gridWindow(101.0))

	assert.Equal(t, domain.ActionSell, sig.Action)
	assert.Contains(t, sig.Reason, "sell level")
}

func TestGrid_BoundsBreakoutExitsAndRecenters(t *testing.T) {
	s := NewGrid(DefaultGridConfig())
	s.Evaluate(gridWindow(100))

	sig := s.Evaluate(gridWindow(94.0)) // beyond the -5% bound

	assert.Equal(t, domain.ActionSell, sig.Action)
	assert.Contains(t, sig.Reason, "bounds")

	// Grid re-centered on the breakout price: a small move no longer fills.
	sig = s.Evaluate(gridWindow(94.1))
	assert.Equal(t, domain.ActionHold, sig.Action)
}

func TestGrid_ResetDropsState(t *testing.T) {
	s := NewGrid(DefaultGridConfig())
	s.Evaluate(gridWindow(100))
	s.Reset()

	sig := s.Evaluate(gridWindow(90))

	// After reset the first evaluation only places levels again.
	assert.Equal(t, domain.ActionHold, sig.Action)
	assert.Contains(t, sig.Reason, "placed")
}

func TestGrid_ShortWindowHolds(t *testing.T) {
	s := NewGrid(DefaultGridConfig())

	sig := s.Evaluate(candlesFromCloses(flatCloses(10, 100)))

	assert.Equal(t, domain.ActionHold, sig.Action)
	assert.Equal(t, 0.0, sig.Confidence)
}
