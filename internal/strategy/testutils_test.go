package strategy

import (
	"github.com/vitos/crypto_trade_engine/internal/domain"
)

func candlesFromCloses(closes []float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			Time:   int64(i) * 60_000,
			Open:   c,
			High:   c * 1.002,
			Low:    c * 0.998,
			Close:  c,
			Volume: 1000,
		}
	}
	return out
}

func trendingCloses(n int, start, step float64) []float64 {
	closes := make([]float64, n)
	price := start
	for i := range closes {
		price += step
		closes[i] = price
	}
	return closes
}

func flatCloses(n int, price float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return closes
}

func withVolumeSpike(candles []domain.Candle, ratio float64) []domain.Candle {
	out := make([]domain.Candle, len(candles))
	copy(out, candles)
	out[len(out)-1].Volume *= ratio
	return out
}
