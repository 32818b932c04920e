package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitos/crypto_trade_engine/internal/domain"
)

func TestMomentum_UptrendWithVolumeBuys(t *testing.T) {
	s := NewMomentum(DefaultMomentumConfig())
	candles := withVolumeSpike(candlesFromCloses(trendingCloses(150, 100, 1.5)), 2.0)

	sig := s.Evaluate(candles)

	assert.Equal(t, domain.ActionBuy, sig.Action)
	assert.Greater(t, sig.Confidence, 50.0)
	assert.Contains(t, sig.Reason, "momentum")
}

func TestMomentum_DowntrendWithVolumeSells(t *testing.T) {
	s := NewMomentum(DefaultMomentumConfig())
	candles := withVolumeSpike(candlesFromCloses(trendingCloses(150, 500, -2.0)), 2.0)

	sig := s.Evaluate(candles)

	assert.Equal(t, domain.ActionSell, sig.Action)
}

func TestMomentum_NoVolumeConfirmationHolds(t *testing.T) {
	s := NewMomentum(DefaultMomentumConfig())
	candles := candlesFromCloses(trendingCloses(150, 100, 1.5))

	sig := s.Evaluate(candles)

	assert.Equal(t, domain.ActionHold, sig.Action)
}

func TestMomentum_ShortWindowHolds(t *testing.T) {
	s := NewMomentum(DefaultMomentumConfig())

	sig := s.Evaluate(candlesFromCloses(trendingCloses(30, 100, 1.5)))

	assert.Equal(t, domain.ActionHold, sig.Action)
	assert.Equal(t, 0.0, sig.Confidence)
}

func TestMomentum_Suitability(t *testing.T) {
	s := NewMomentum(DefaultMomentumConfig())

	trending := s.Suitability(candlesFromCloses(trendingCloses(150, 100, 1.5)))
	flat := s.Suitability(candlesFromCloses(flatCloses(150, 100)))

	assert.Greater(t, trending, 60.0)
	assert.Less(t, flat, trending)
	assert.Equal(t, 0.0, s.Suitability(candlesFromCloses(flatCloses(10, 100))))
}
