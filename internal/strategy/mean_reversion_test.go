package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitos/crypto_trade_engine/internal/domain"
)

// acceleratingDecline is flat then falls progressively faster, pushing the
// close through the lower Bollinger band while RSI stays pinned.
func acceleratingDecline(n, breakAt int) []domain.Candle {
	closes := make([]float64, n)
	for i := range closes {
		if i < breakAt {
			closes[i] = 100
		} else {
			off := float64(i - breakAt)
			closes[i] = 100 - 0.02*off*off
		}
	}
	return candlesFromCloses(closes)
}

func acceleratingRally(n, breakAt int) []domain.Candle {
	closes := make([]float64, n)
	for i := range closes {
		if i < breakAt {
			closes[i] = 100
		} else {
			off := float64(i - breakAt)
			closes[i] = 100 + 0.02*off*off
		}
	}
	return candlesFromCloses(closes)
}

func TestMeanReversion_OversoldAtLowerBandBuys(t *testing.T) {
	s := NewMeanReversion(DefaultMeanReversionConfig())

	sig := s.Evaluate(acceleratingDecline(120, 95))

	assert.Equal(t, domain.ActionBuy, sig.Action)
	assert.Contains(t, sig.Reason, "oversold")
}

func TestMeanReversion_OverboughtAtUpperBandSells(t *testing.T) {
	s := NewMeanReversion(DefaultMeanReversionConfig())

	sig := s.Evaluate(acceleratingRally(120, 95))

	assert.Equal(t, domain.ActionSell, sig.Action)
	assert.Contains(t, sig.Reason, "overbought")
}

func TestMeanReversion_MidBandHolds(t *testing.T) {
	s := NewMeanReversion(DefaultMeanReversionConfig())

	sig := s.Evaluate(candlesFromCloses(trendingCloses(150, 100, 0.05)))

	assert.Equal(t, domain.ActionHold, sig.Action)
}

func TestMeanReversion_ShortWindowHolds(t *testing.T) {
	s := NewMeanReversion(DefaultMeanReversionConfig())

	sig := s.Evaluate(acceleratingDecline(40, 20))

	assert.Equal(t, domain.ActionHold, sig.Action)
	assert.Equal(t, 0.0, sig.Confidence)
}
