package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/position"
	"github.com/vitos/crypto_trade_engine/internal/risk"
	"github.com/vitos/crypto_trade_engine/internal/strategy"
)

type order struct {
	symbol string
	quote  float64
}

type fakeExchange struct {
	mu        sync.Mutex
	prices    map[string]float64
	candles   map[string][]domain.Candle
	candleErr map[string]error
	buys      []order
	sells     []order
	sellErr   error
	callback  func(symbol string, price float64)
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		prices:    make(map[string]float64),
		candles:   make(map[string][]domain.Candle),
		candleErr: make(map[string]error),
	}
}

func (f *fakeExchange) GetCurrentPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

func (f *fakeExchange) GetCandles(_ context.Context, symbol, _ string, _ int) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.candleErr[symbol]; err != nil {
		return nil, err
	}
	return f.candles[symbol], nil
}

func (f *fakeExchange) MarketBuy(_ context.Context, symbol string, quote float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, order{symbol, quote})
	return nil
}

func (f *fakeExchange) MarketSell(_ context.Context, symbol string, quote float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sellErr != nil {
		return f.sellErr
	}
	f.sells = append(f.sells, order{symbol, quote})
	return nil
}

func (f *fakeExchange) setSellErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellErr = err
}

func (f *fakeExchange) OnPriceUpdate(cb func(symbol string, price float64)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = cb
}

func (f *fakeExchange) Subscribe([]string) error { return nil }

func (f *fakeExchange) buyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buys)
}

func (f *fakeExchange) sellCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sells)
}

// scripted emits a fixed signal regardless of candles.
type scripted struct {
	name string
	sig  domain.Signal
	plan strategy.ExitPlan
}

func (s *scripted) Name() string                           { return s.name }
func (s *scripted) Evaluate([]domain.Candle) domain.Signal { return s.sig }
func (s *scripted) Suitability([]domain.Candle) float64    { return 50 }
func (s *scripted) ExitPlan() strategy.ExitPlan            { return s.plan }

type stubPicker struct {
	strat strategy.Strategy
}

func (p *stubPicker) Select(string, []domain.Candle) (strategy.Strategy, domain.RegimeAssessment) {
	return p.strat, domain.RegimeAssessment{Type: domain.RegimeChoppy}
}

type memoryRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Position
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[string]*domain.Position)}
}

func (r *memoryRepo) SavePosition(_ context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pos
	r.rows[pos.ID] = &cp
	return nil
}

func (r *memoryRepo) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	return r.SavePosition(ctx, pos)
}

func (r *memoryRepo) GetOpenPositions(context.Context) ([]*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Position
	for _, pos := range r.rows {
		if pos.Status == domain.StatusOpen {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetOpenBySymbol(_ context.Context, symbol string) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pos := range r.rows {
		if pos.Status == domain.StatusOpen && pos.Symbol == symbol {
			cp := *pos
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) ListClosed(context.Context, int) ([]*domain.Position, error) {
	return nil, nil
}

func testCandles() []domain.Candle {
	out := make([]domain.Candle, 120)
	for i := range out {
		out[i] = domain.Candle{
			Time:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute).UnixMilli(),
			Open:  100, High: 100.2, Low: 99.8, Close: 100, Volume: 1000,
		}
	}
	return out
}

type fixture struct {
	orch      *Orchestrator
	exchange  *fakeExchange
	positions *position.Manager
	risk      *risk.Controller
	picker    *stubPicker
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ex := newFakeExchange()
	positions := position.NewManager(position.DefaultManagerConfig(), newMemoryRepo(), zap.NewNop())
	riskCtrl := risk.NewController(risk.DefaultConfig(), zap.NewNop())
	picker := &stubPicker{}

	orch, err := New(cfg, ex, picker, positions, riskCtrl, zap.NewNop())
	require.NoError(t, err)
	return &fixture{orch: orch, exchange: ex, positions: positions, risk: riskCtrl, picker: picker}
}

func buyStrategy() *scripted {
	return &scripted{
		name: "scripted",
		sig:  domain.Signal{Action: domain.ActionBuy, Confidence: 80, Reason: "test entry"},
		plan: strategy.ExitPlan{StopLossPct: 2, TakeProfitPct: 4},
	}
}

func singleSymbolConfig() Config {
	cfg := DefaultConfig()
	cfg.Symbols = []string{"BTCUSDT"}
	return cfg
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "no symbols")

	cfg.Symbols = []string{"BTCUSDT"}
	assert.NoError(t, cfg.Validate())

	cfg.PositionSize = 0
	assert.Error(t, cfg.Validate())
}

func TestEvaluateSymbolOpensPosition(t *testing.T) {
	fx := newFixture(t, singleSymbolConfig())
	fx.exchange.candles["BTCUSDT"] = testCandles()
	fx.exchange.prices["BTCUSDT"] = 100
	fx.picker.strat = buyStrategy()

	require.NoError(t, fx.orch.EvaluateSymbol(context.Background(), "BTCUSDT"))

	assert.Equal(t, 1, fx.exchange.buyCount())
	require.True(t, fx.positions.HasOpen("BTCUSDT"))
	pos := fx.positions.OpenPositions()[0]
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 1.0, pos.Quantity, 1e-9) // 100 quote at price 100
}

func TestEvaluateSymbolSkipsLowConfidence(t *testing.T) {
	fx := newFixture(t, singleSymbolConfig())
	fx.exchange.candles["BTCUSDT"] = testCandles()
	fx.exchange.prices["BTCUSDT"] = 100
	strat := buyStrategy()
	strat.sig.Confidence = 40
	fx.picker.strat = strat

	require.NoError(t, fx.orch.EvaluateSymbol(context.Background(), "BTCUSDT"))
	assert.Zero(t, fx.exchange.buyCount())
	assert.False(t, fx.positions.HasOpen("BTCUSDT"))
}

func TestEvaluateSymbolSitsOutWithoutStrategy(t *testing.T) {
	fx := newFixture(t, singleSymbolConfig())
	fx.exchange.candles["BTCUSDT"] = testCandles()
	fx.picker.strat = nil

	require.NoError(t, fx.orch.EvaluateSymbol(context.Background(), "BTCUSDT"))
	assert.Zero(t, fx.exchange.buyCount())
}

func TestEntryBlockedByRiskController(t *testing.T) {
	fx := newFixture(t, singleSymbolConfig())
	fx.exchange.candles["BTCUSDT"] = testCandles()
	fx.exchange.prices["BTCUSDT"] = 100
	fx.picker.strat = buyStrategy()

	for i := 0; i < 3; i++ {
		fx.risk.RecordClose(-50, 10000)
	}

	require.NoError(t, fx.orch.EvaluateSymbol(context.Background(), "BTCUSDT"))
	assert.Zero(t, fx.exchange.buyCount(), "tripped breaker must block the entry")
}

func TestSellSignalClosesOpenPosition(t *testing.T) {
	fx := newFixture(t, singleSymbolConfig())
	fx.exchange.candles["BTCUSDT"] = testCandles()
	fx.exchange.prices["BTCUSDT"] = 100
	fx.picker.strat = buyStrategy()

	ctx := context.Background()
	require.NoError(t, fx.orch.EvaluateSymbol(ctx, "BTCUSDT"))
	require.True(t, fx.positions.HasOpen("BTCUSDT"))

	fx.picker.strat = &scripted{
		name: "scripted",
		sig:  domain.Signal{Action: domain.ActionSell, Confidence: 75, Reason: "test exit"},
	}
	fx.exchange.prices["BTCUSDT"] = 101

	require.NoError(t, fx.orch.EvaluateSymbol(ctx, "BTCUSDT"))
	assert.False(t, fx.positions.HasOpen("BTCUSDT"))
	assert.Equal(t, 1, fx.exchange.sellCount())
}

func TestMonitorClosesStoppedPosition(t *testing.T) {
	fx := newFixture(t, singleSymbolConfig())
	fx.exchange.candles["BTCUSDT"] = testCandles()
	fx.exchange.prices["BTCUSDT"] = 100
	fx.picker.strat = buyStrategy()

	ctx := context.Background()
	require.NoError(t, fx.orch.EvaluateSymbol(ctx, "BTCUSDT"))
	require.True(t, fx.positions.HasOpen("BTCUSDT"))

	// stop sits 2% below entry
	fx.exchange.prices["BTCUSDT"] = 97
	fx.orch.monitorOnce(ctx)

	assert.False(t, fx.positions.HasOpen("BTCUSDT"))
	assert.Equal(t, 1, fx.exchange.sellCount())
}

func TestFailedSellOrderKeepsPositionOpen(t *testing.T) {
	fx := newFixture(t, singleSymbolConfig())
	fx.exchange.candles["BTCUSDT"] = testCandles()
	fx.exchange.prices["BTCUSDT"] = 100
	fx.picker.strat = buyStrategy()

	ctx := context.Background()
	require.NoError(t, fx.orch.EvaluateSymbol(ctx, "BTCUSDT"))
	require.True(t, fx.positions.HasOpen("BTCUSDT"))

	fx.exchange.setSellErr(fmt.Errorf("order rejected"))
	fx.exchange.prices["BTCUSDT"] = 97
	fx.orch.monitorOnce(ctx)

	assert.True(t, fx.positions.HasOpen("BTCUSDT"), "close must not be recorded without a filled order")
	assert.Zero(t, fx.exchange.sellCount())
	assert.Zero(t, fx.risk.Summarize(nil, 10000).ConsecutiveLosses, "rejected order must not count toward the breaker")

	// once the venue accepts orders again the next tick completes the exit
	fx.exchange.setSellErr(nil)
	fx.orch.monitorOnce(ctx)

	assert.False(t, fx.positions.HasOpen("BTCUSDT"))
	assert.Equal(t, 1, fx.exchange.sellCount())
}

func TestStreamedTickDrivesExit(t *testing.T) {
	fx := newFixture(t, singleSymbolConfig())
	fx.exchange.candles["BTCUSDT"] = testCandles()
	fx.exchange.prices["BTCUSDT"] = 100
	fx.picker.strat = buyStrategy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.orch.Start(ctx))
	defer fx.orch.Stop()

	require.Eventually(t, func() bool { return fx.positions.HasOpen("BTCUSDT") },
		2*time.Second, 10*time.Millisecond)

	fx.exchange.mu.Lock()
	cb := fx.exchange.callback
	fx.exchange.mu.Unlock()
	require.NotNil(t, cb)

	cb("BTCUSDT", 97)
	assert.False(t, fx.positions.HasOpen("BTCUSDT"))
	assert.Equal(t, 1, fx.exchange.sellCount())
}

func TestSymbolFailureIsIsolated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Symbols = []string{"BADUSDT", "BTCUSDT"}
	cfg.DecisionInterval = 20 * time.Millisecond

	fx := newFixture(t, cfg)
	fx.exchange.candles["BTCUSDT"] = testCandles()
	fx.exchange.prices["BTCUSDT"] = 100
	fx.exchange.candleErr["BADUSDT"] = fmt.Errorf("feed down")
	fx.picker.strat = buyStrategy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.orch.Start(ctx))

	require.Eventually(t, func() bool { return fx.positions.HasOpen("BTCUSDT") },
		2*time.Second, 10*time.Millisecond)
	fx.orch.Stop()
}

func TestStartTwiceFails(t *testing.T) {
	fx := newFixture(t, singleSymbolConfig())
	fx.exchange.candles["BTCUSDT"] = testCandles()

	ctx := context.Background()
	require.NoError(t, fx.orch.Start(ctx))
	assert.Error(t, fx.orch.Start(ctx))
	fx.orch.Stop()
}

func TestRiskSummaryReflectsOpenExposure(t *testing.T) {
	fx := newFixture(t, singleSymbolConfig())
	fx.exchange.candles["BTCUSDT"] = testCandles()
	fx.exchange.prices["BTCUSDT"] = 100
	fx.picker.strat = buyStrategy()

	require.NoError(t, fx.orch.EvaluateSymbol(context.Background(), "BTCUSDT"))

	s := fx.orch.RiskSummary()
	assert.InDelta(t, 1.0, s.TotalExposurePct, 1e-9) // 100 of 10000
}
