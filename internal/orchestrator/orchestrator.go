// Package orchestrator runs the automation: one decision loop per symbol
// plus a shared monitor loop that ticks open positions against live prices.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/position"
	"github.com/vitos/crypto_trade_engine/internal/regime"
	"github.com/vitos/crypto_trade_engine/internal/risk"
	"github.com/vitos/crypto_trade_engine/internal/strategy"
)

type Config struct {
	Symbols          []string
	CandleInterval   string
	CandleLimit      int
	DecisionInterval time.Duration
	MonitorInterval  time.Duration
	PositionSize     float64 // quote currency per entry
	MinConfidence    float64
	PortfolioValue   float64
	UseKellySizing   bool
}

func DefaultConfig() Config {
	return Config{
		CandleInterval:   "1",
		CandleLimit:      200,
		DecisionInterval: time.Minute,
		MonitorInterval:  5 * time.Second,
		PositionSize:     100,
		MinConfidence:    55,
		PortfolioValue:   10000,
	}
}

func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.DecisionInterval <= 0 || c.MonitorInterval <= 0 {
		return fmt.Errorf("decision and monitor intervals must be positive")
	}
	if c.PositionSize <= 0 {
		return fmt.Errorf("position size must be positive, got %f", c.PositionSize)
	}
	if c.PortfolioValue <= 0 {
		return fmt.Errorf("portfolio value must be positive, got %f", c.PortfolioValue)
	}
	return nil
}

// StrategyPicker chooses the strategy for a symbol given the latest candles.
// strategy.Selector is the production implementation.
type StrategyPicker interface {
	Select(symbol string, candles []domain.Candle) (strategy.Strategy, domain.RegimeAssessment)
}

// Orchestrator owns the loop goroutines. Start launches them, Stop waits for
// a clean drain. One evaluation failure never stops a loop and never affects
// another symbol.
type Orchestrator struct {
	cfg       Config
	exchange  domain.Exchange
	picker    StrategyPicker
	positions *position.Manager
	risk      *risk.Controller
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, exchange domain.Exchange, picker StrategyPicker, positions *position.Manager, riskCtrl *risk.Controller, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	o := &Orchestrator{
		cfg:       cfg,
		exchange:  exchange,
		picker:    picker,
		positions: positions,
		risk:      riskCtrl,
		logger:    logger,
	}
	// the manager places the exit order before it finalizes any close, so a
	// rejected order leaves the position open and unrecorded
	positions.SetExitExecutor(func(ctx context.Context, symbol string, qty, price float64, reason string) error {
		return o.exchange.MarketSell(ctx, symbol, qty*price)
	})
	return o, nil
}

// Start launches one decision loop per symbol and the monitor loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	o.mu.Unlock()

	// streamed ticks hit positions immediately; the monitor loop is the
	// polling backstop when the stream is down
	o.exchange.OnPriceUpdate(func(symbol string, price float64) {
		o.applyTick(runCtx, symbol, price)
	})
	if err := o.exchange.Subscribe(o.cfg.Symbols); err != nil {
		o.logger.Warn("price stream subscribe failed, monitor loop will poll", zap.Error(err))
	}

	for _, symbol := range o.cfg.Symbols {
		o.wg.Add(1)
		go o.decisionLoop(runCtx, symbol)
	}
	o.wg.Add(1)
	go o.monitorLoop(runCtx)

	o.logger.Info("orchestrator started",
		zap.Strings("symbols", o.cfg.Symbols),
		zap.Duration("decisionInterval", o.cfg.DecisionInterval),
		zap.Duration("monitorInterval", o.cfg.MonitorInterval))
	return nil
}

// Stop cancels the loops and blocks until every goroutine has drained.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) decisionLoop(ctx context.Context, symbol string) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.DecisionInterval)
	defer ticker.Stop()

	o.evaluateOnce(ctx, symbol)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.evaluateOnce(ctx, symbol)
		}
	}
}

func (o *Orchestrator) evaluateOnce(ctx context.Context, symbol string) {
	if err := o.EvaluateSymbol(ctx, symbol); err != nil {
		o.logger.Error("evaluate symbol", zap.String("symbol", symbol), zap.Error(err))
	}
}

// EvaluateSymbol runs one full decision pass: fetch candles, pick the
// strategy, evaluate, and act on the signal.
func (o *Orchestrator) EvaluateSymbol(ctx context.Context, symbol string) error {
	candles, err := o.exchange.GetCandles(ctx, symbol, o.cfg.CandleInterval, o.cfg.CandleLimit)
	if err != nil {
		return fmt.Errorf("get candles for %s: %w", symbol, err)
	}

	strat, assessment := o.picker.Select(symbol, candles)
	if strat == nil {
		o.logger.Debug("sitting out",
			zap.String("symbol", symbol),
			zap.String("regime", string(assessment.Type)))
		return nil
	}

	sig := strat.Evaluate(candles)
	o.logger.Debug("signal",
		zap.String("symbol", symbol),
		zap.String("strategy", strat.Name()),
		zap.String("action", string(sig.Action)),
		zap.Float64("confidence", sig.Confidence),
		zap.String("reason", sig.Reason))

	if o.positions.HasOpen(symbol) {
		if sig.Action == domain.ActionSell {
			reason := domain.ExitManual
			if strat.Name() == regime.StrategyGrid {
				reason = domain.ExitGridBreakout
			}
			return o.ClosePosition(ctx, symbol, reason)
		}
		return nil
	}

	if sig.Action != domain.ActionBuy || sig.Confidence < o.cfg.MinConfidence {
		return nil
	}
	return o.openPosition(ctx, symbol, strat, sig)
}

func (o *Orchestrator) entrySize() float64 {
	if o.cfg.UseKellySizing {
		if r := o.risk.KellySize(o.cfg.PortfolioValue); r.Size > 0 && r.Size < o.cfg.PositionSize {
			return r.Size
		}
	}
	return o.cfg.PositionSize
}

func (o *Orchestrator) openPosition(ctx context.Context, symbol string, strat strategy.Strategy, sig domain.Signal) error {
	size := o.entrySize()
	decision := o.risk.CheckEntry(symbol, size, o.positions.OpenPositions(), o.cfg.PortfolioValue)
	if !decision.OK {
		o.logger.Info("entry rejected",
			zap.String("symbol", symbol),
			zap.String("reason", decision.Reason))
		return nil
	}

	price, err := o.exchange.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("get price for %s: %w", symbol, err)
	}
	if err := o.exchange.MarketBuy(ctx, symbol, size); err != nil {
		return fmt.Errorf("market buy %s: %w", symbol, err)
	}

	plan := strat.ExitPlan()
	pos, err := o.positions.Open(ctx, position.OpenRequest{
		Symbol:     symbol,
		Strategy:   strat.Name(),
		Side:       domain.SideLong,
		EntryPrice: price,
		Quantity:   size / price,
		Plan:       plan,
		WithLadder: plan.UseLadder,
	})
	if err != nil {
		return fmt.Errorf("record position for %s: %w", symbol, err)
	}

	o.logger.Info("entered position",
		zap.String("id", pos.ID),
		zap.String("symbol", symbol),
		zap.String("strategy", strat.Name()),
		zap.Float64("entry", price),
		zap.Float64("size", size),
		zap.String("signal", sig.Reason))
	return nil
}

// ClosePosition closes the symbol's open position at the current market
// price and sells the remaining quantity.
func (o *Orchestrator) ClosePosition(ctx context.Context, symbol string, reason string) error {
	pos, ok := o.openBySymbol(symbol)
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}

	price, err := o.exchange.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("get price for %s: %w", symbol, err)
	}
	if _, err := o.positions.Close(ctx, pos.ID, price, reason); err != nil {
		return fmt.Errorf("close position %s: %w", pos.ID, err)
	}
	return nil
}

func (o *Orchestrator) openBySymbol(symbol string) (*domain.Position, bool) {
	for _, pos := range o.positions.OpenPositions() {
		if pos.Symbol == symbol {
			return pos, true
		}
	}
	return nil, false
}

func (o *Orchestrator) monitorLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.monitorOnce(ctx)
		}
	}
}

func (o *Orchestrator) monitorOnce(ctx context.Context) {
	for _, symbol := range o.positions.OpenSymbols() {
		price, err := o.exchange.GetCurrentPrice(ctx, symbol)
		if err != nil {
			o.logger.Error("monitor price fetch", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		o.applyTick(ctx, symbol, price)
	}
}

// applyTick routes one price through the position manager. Exit orders are
// placed by the manager's executor before it records a close, so events here
// are already executed fills.
func (o *Orchestrator) applyTick(ctx context.Context, symbol string, price float64) {
	events, err := o.positions.OnPriceTick(ctx, symbol, price)
	if err != nil {
		o.logger.Error("price tick", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	for _, ev := range events {
		o.logger.Info("exit executed",
			zap.String("symbol", symbol),
			zap.String("reason", ev.Reason),
			zap.Float64("price", ev.Price),
			zap.Float64("pnl", ev.PnL),
			zap.Bool("final", ev.Final))
	}
}

// RiskSummary snapshots the account risk state.
func (o *Orchestrator) RiskSummary() risk.Summary {
	return o.risk.Summarize(o.positions.OpenPositions(), o.cfg.PortfolioValue)
}
