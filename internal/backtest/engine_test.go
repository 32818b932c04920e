package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/strategy"
)

// scripted trades on a caller-supplied condition so tests control entries
// exactly.
type scripted struct {
	plan        strategy.ExitPlan
	trigger     func(candles []domain.Candle) bool
	sellTrigger func(candles []domain.Candle) bool
	firstSeen   int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Evaluate(candles []domain.Candle) domain.Signal {
	if s.firstSeen == 0 {
		s.firstSeen = len(candles)
	}
	if s.trigger != nil && s.trigger(candles) {
		return domain.Signal{Action: domain.ActionBuy, Confidence: 80, Reason: "scripted entry"}
	}
	if s.sellTrigger != nil && s.sellTrigger(candles) {
		return domain.Signal{Action: domain.ActionSell, Confidence: 80, Reason: "scripted exit"}
	}
	return domain.Hold("scripted hold")
}

func (s *scripted) Suitability([]domain.Candle) float64 { return 50 }

func (s *scripted) ExitPlan() strategy.ExitPlan { return s.plan }

var runStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func minuteCandles(closes []float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			Time:   runStart.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Open:   c,
			High:   c * 1.002,
			Low:    c * 0.998,
			Close:  c,
			Volume: 1000,
		}
	}
	return out
}

func buyOnWindowLen(n int) func(candles []domain.Candle) bool {
	return func(candles []domain.Candle) bool { return len(candles) == n }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Symbol = "BTCUSDT"
	cfg.MinWindow = 5
	return cfg
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Symbol = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.PositionSize = cfg.InitialCapital + 1
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Start = runStart
	bad.End = runStart.Add(-time.Hour)
	assert.Error(t, bad.Validate())
}

func TestRunNeedsWarmupPlusData(t *testing.T) {
	eng, err := NewEngine(testConfig(), &scripted{}, zap.NewNop())
	require.NoError(t, err)

	_, err = eng.Run(minuteCandles([]float64{100, 100, 100}))
	require.Error(t, err)
}

func TestWarmupBeforeFirstEvaluation(t *testing.T) {
	strat := &scripted{plan: strategy.ExitPlan{StopLossPct: 5, TakeProfitPct: 10}}
	eng, err := NewEngine(testConfig(), strat, zap.NewNop())
	require.NoError(t, err)

	_, err = eng.Run(minuteCandles([]float64{100, 100, 100, 100, 100, 100, 100, 100}))
	require.NoError(t, err)
	assert.Equal(t, 6, strat.firstSeen, "first evaluation sees warmup plus the current candle")
}

func TestTakeProfitExit(t *testing.T) {
	strat := &scripted{
		plan:    strategy.ExitPlan{StopLossPct: 2, TakeProfitPct: 2},
		trigger: buyOnWindowLen(6),
	}
	eng, err := NewEngine(testConfig(), strat, zap.NewNop())
	require.NoError(t, err)

	closes := []float64{100, 100, 100, 100, 100, 100, 101, 102, 103, 104}
	res, err := eng.Run(minuteCandles(closes))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.Equal(t, domain.ExitTakeProfit, trade.Reason)
	// entry slips up to 100.05, target 2% above: the 103 close crosses it
	assert.InDelta(t, 100.05, trade.EntryPrice, 1e-9)
	assert.InDelta(t, 103*0.9995, trade.ExitPrice, 1e-9)
	assert.Greater(t, trade.PnL, 0.0)
	assert.Equal(t, 1, res.Metrics.Wins)
	assert.InDelta(t, 100.0, res.Metrics.WinRate, 1e-9)
	assert.Greater(t, res.Metrics.FinalEquity, res.Config.InitialCapital)
}

func TestStopLossExit(t *testing.T) {
	strat := &scripted{
		plan:    strategy.ExitPlan{StopLossPct: 2, TakeProfitPct: 4},
		trigger: buyOnWindowLen(6),
	}
	eng, err := NewEngine(testConfig(), strat, zap.NewNop())
	require.NoError(t, err)

	closes := []float64{100, 100, 100, 100, 100, 100, 99, 97, 97, 97}
	res, err := eng.Run(minuteCandles(closes))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.ExitStopLoss, res.Trades[0].Reason)
	assert.Less(t, res.Trades[0].PnL, 0.0)
	assert.Equal(t, 1, res.Metrics.Losses)
	assert.Greater(t, res.Metrics.MaxDrawdownPct, 0.0)
	assert.Less(t, res.Metrics.FinalEquity, res.Config.InitialCapital)
}

func TestMaxHoldExit(t *testing.T) {
	strat := &scripted{
		plan:    strategy.ExitPlan{StopLossPct: 5, TakeProfitPct: 10, MaxHold: 2 * time.Minute},
		trigger: buyOnWindowLen(6),
	}
	eng, err := NewEngine(testConfig(), strat, zap.NewNop())
	require.NoError(t, err)

	closes := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}
	res, err := eng.Run(minuteCandles(closes))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.ExitMaxHold, res.Trades[0].Reason)
	assert.Equal(t, 2*time.Minute, res.Trades[0].Hold)
}

func TestLadderPartialsThenTakeProfit(t *testing.T) {
	strat := &scripted{
		plan:    strategy.ExitPlan{StopLossPct: 3, TakeProfitPct: 4, UseLadder: true},
		trigger: buyOnWindowLen(6),
	}
	eng, err := NewEngine(testConfig(), strat, zap.NewNop())
	require.NoError(t, err)

	// rungs sit at +2% and +3% of the 100.05 entry; 105 crosses the full
	// target
	closes := []float64{100, 100, 100, 100, 100, 100, 102.5, 102.6, 103.5, 105}
	res, err := eng.Run(minuteCandles(closes))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.Equal(t, domain.ExitTakeProfit, trade.Reason)
	assert.Greater(t, trade.PnL, 0.0)
	assert.Greater(t, res.Metrics.FinalEquity, res.Config.InitialCapital)
}

func TestSellSignalClosesOpenPosition(t *testing.T) {
	strat := &scripted{
		plan:    strategy.ExitPlan{StopLossPct: 50, TakeProfitPct: 50},
		trigger: buyOnWindowLen(6),
		sellTrigger: func(candles []domain.Candle) bool {
			return len(candles) >= 8
		},
	}
	eng, err := NewEngine(testConfig(), strat, zap.NewNop())
	require.NoError(t, err)

	closes := []float64{100, 100, 100, 100, 100, 100, 100.5, 100.4, 100.6, 100.2}
	res, err := eng.Run(minuteCandles(closes))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.Equal(t, domain.ExitManual, trade.Reason,
		"sell signal must close the position, not wait for the range end")
	assert.InDelta(t, 100.4*0.9995, trade.ExitPrice, 1e-9)
	assert.Equal(t, 2*time.Minute, trade.Hold)
}

func TestPriceTriggersBeatSellSignal(t *testing.T) {
	strat := &scripted{
		plan:    strategy.ExitPlan{StopLossPct: 2, TakeProfitPct: 50},
		trigger: buyOnWindowLen(6),
		sellTrigger: func(candles []domain.Candle) bool {
			return len(candles) >= 8
		},
	}
	eng, err := NewEngine(testConfig(), strat, zap.NewNop())
	require.NoError(t, err)

	// the 97 close crosses the 2% stop on the same candle the sell fires
	closes := []float64{100, 100, 100, 100, 100, 100, 99, 97, 97, 97}
	res, err := eng.Run(minuteCandles(closes))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.ExitStopLoss, res.Trades[0].Reason)
}

func TestOpenPositionForceClosedAtRangeEnd(t *testing.T) {
	strat := &scripted{
		plan:    strategy.ExitPlan{StopLossPct: 5, TakeProfitPct: 10},
		trigger: buyOnWindowLen(6),
	}
	eng, err := NewEngine(testConfig(), strat, zap.NewNop())
	require.NoError(t, err)

	closes := []float64{100, 100, 100, 100, 100, 100, 100.2, 100.1, 100.3}
	res, err := eng.Run(minuteCandles(closes))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.ExitEndOfRange, res.Trades[0].Reason)
	assert.Equal(t, 1, res.Metrics.TotalTrades)
}

func TestRangeFilter(t *testing.T) {
	cfg := testConfig()
	cfg.Start = runStart.Add(2 * time.Minute)
	strat := &scripted{plan: strategy.ExitPlan{StopLossPct: 5, TakeProfitPct: 10}}
	eng, err := NewEngine(cfg, strat, zap.NewNop())
	require.NoError(t, err)

	closes := make([]float64, 12)
	for i := range closes {
		closes[i] = 100
	}
	_, err = eng.Run(minuteCandles(closes))
	require.NoError(t, err)
	// 12 candles minus the 2 before the start leaves 10: warmup 5, then 5
	// evaluations
	assert.Equal(t, 6, strat.firstSeen)
}

func TestRerunIsDeterministic(t *testing.T) {
	closes := make([]float64, 0, 220)
	price := 100.0
	for i := 0; i < 220; i++ {
		price += math.Sin(float64(i)/7)*0.8 + 0.05
		closes = append(closes, price)
	}
	candles := minuteCandles(closes)

	cfg := DefaultConfig()
	cfg.Symbol = "ETHUSDT"

	run := func() *Result {
		eng, err := NewEngine(cfg, strategy.NewMomentum(strategy.DefaultMomentumConfig()), zap.NewNop())
		require.NoError(t, err)
		res, err := eng.Run(candles)
		require.NoError(t, err)
		return res
	}

	first := run()
	second := run()
	require.Equal(t, first.Trades, second.Trades)
	require.Equal(t, first.EquityCurve, second.EquityCurve)
	require.Equal(t, first.Metrics, second.Metrics)
}
