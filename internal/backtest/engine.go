// Package backtest replays historical candles through the live strategy and
// indicator code paths. The replay is single-threaded and fully
// deterministic: the same candles and config always produce the same trades.
package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/regime"
	"github.com/vitos/crypto_trade_engine/internal/strategy"
)

type Config struct {
	Symbol         string
	InitialCapital float64
	PositionSize   float64 // quote currency per entry
	FeePct         float64 // taker fee per fill, percent of notional
	SlippagePct    float64 // adverse fill adjustment, percent
	MinConfidence  float64 // entries below this signal confidence are skipped
	MinWindow      int     // candles consumed as warmup before the first evaluation
	Start, End     time.Time

	LadderMultiples []float64
	LadderFractions []float64
}

func DefaultConfig() Config {
	return Config{
		InitialCapital:  10000,
		PositionSize:    1000,
		FeePct:          0.1,
		SlippagePct:     0.05,
		MinConfidence:   55,
		MinWindow:       domain.MinWindow,
		LadderMultiples: []float64{0.5, 0.75, 1.0, 1.5},
		LadderFractions: []float64{0.25, 0.25, 0.25, 0.25},
	}
}

func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %f", c.InitialCapital)
	}
	if c.PositionSize <= 0 {
		return fmt.Errorf("position size must be positive, got %f", c.PositionSize)
	}
	if c.PositionSize > c.InitialCapital {
		return fmt.Errorf("position size %f exceeds initial capital %f", c.PositionSize, c.InitialCapital)
	}
	if !c.Start.IsZero() && !c.End.IsZero() && !c.Start.Before(c.End) {
		return fmt.Errorf("start %s must precede end %s", c.Start, c.End)
	}
	if c.MinWindow <= 0 {
		return fmt.Errorf("min window must be positive, got %d", c.MinWindow)
	}
	return nil
}

// Trade is one completed round trip, partial ladder fills folded in.
type Trade struct {
	Strategy   string
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnL        float64
	Reason     string
	Hold       time.Duration
}

type EquityPoint struct {
	Time   time.Time
	Equity float64
}

type Metrics struct {
	TotalTrades    int
	Wins           int
	Losses         int
	WinRate        float64 // percent
	ProfitFactor   float64
	TotalReturnPct float64
	MaxDrawdownPct float64
	AvgHold        time.Duration
	FinalEquity    float64
	FeesPaid       float64
}

type Result struct {
	RunID       string
	Config      Config
	Trades      []Trade
	EquityCurve []EquityPoint
	Metrics     Metrics
}

// resettable lets the engine clear stateful strategies between runs.
type resettable interface{ Reset() }

// Engine replays candles through one strategy.
type Engine struct {
	cfg    Config
	strat  strategy.Strategy
	logger *zap.Logger
}

func NewEngine(cfg Config, strat strategy.Strategy, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("backtest config: %w", err)
	}
	if strat == nil {
		return nil, fmt.Errorf("strategy is required")
	}
	return &Engine{cfg: cfg, strat: strat, logger: logger}, nil
}

// simPosition mirrors the live position lifecycle on replayed closes.
type simPosition struct {
	entryTime  time.Time
	entryPrice float64
	quantity   float64
	stopLoss   float64
	takeProfit float64
	trailing   bool
	trailPct   float64
	ladder     []domain.LadderRung
	closedFrac float64
	realized   float64
	feesPaid   float64
	maxHold    time.Duration
	strategy   string
}

func (p *simPosition) remainingQty() float64 {
	return p.quantity * (1 - p.closedFrac)
}

// Run replays the candle series. Candles must be in ascending time order.
func (e *Engine) Run(candles []domain.Candle) (*Result, error) {
	candles = e.filterRange(candles)
	if len(candles) <= e.cfg.MinWindow {
		return nil, fmt.Errorf("need more than %d candles after range filter, have %d", e.cfg.MinWindow, len(candles))
	}
	if r, ok := e.strat.(resettable); ok {
		r.Reset()
	}

	res := &Result{RunID: uuid.NewString(), Config: e.cfg}
	cash := e.cfg.InitialCapital
	var pos *simPosition
	var totalFees float64

	for i := e.cfg.MinWindow; i < len(candles); i++ {
		window := candles[:i+1]
		candle := candles[i]
		price := candle.Close
		ts := candle.Timestamp()

		if pos != nil {
			trade, proceeds, done := e.step(pos, price, ts)
			cash += proceeds
			if !done {
				// price triggers take priority; a sell signal closes the
				// remainder, mirroring the live decision loop
				if sig := e.strat.Evaluate(window); sig.Action == domain.ActionSell {
					trade, proceeds = e.closeAll(pos, price, ts, sellReason(e.strat.Name()))
					cash += proceeds
					done = true
				}
			}
			if done {
				totalFees += pos.feesPaid
				res.Trades = append(res.Trades, trade)
				pos = nil
			}
		} else {
			sig := e.strat.Evaluate(window)
			if sig.Action == domain.ActionBuy && sig.Confidence >= e.cfg.MinConfidence {
				opened, cost := e.open(price, ts)
				if cost <= cash {
					pos = opened
					cash -= cost
				}
			}
		}

		equity := cash
		if pos != nil {
			equity += pos.remainingQty() * price
		}
		res.EquityCurve = append(res.EquityCurve, EquityPoint{Time: ts, Equity: equity})
	}

	if pos != nil {
		last := candles[len(candles)-1]
		trade, proceeds := e.closeAll(pos, last.Close, last.Timestamp(), domain.ExitEndOfRange)
		cash += proceeds
		totalFees += pos.feesPaid
		res.Trades = append(res.Trades, trade)
		if n := len(res.EquityCurve); n > 0 {
			res.EquityCurve[n-1].Equity = cash
		}
	}

	res.Metrics = e.metrics(res.Trades, res.EquityCurve, cash, totalFees)
	e.logger.Info("backtest complete",
		zap.String("symbol", e.cfg.Symbol),
		zap.String("strategy", e.strat.Name()),
		zap.Int("candles", len(candles)),
		zap.Int("trades", res.Metrics.TotalTrades),
		zap.Float64("returnPct", res.Metrics.TotalReturnPct))
	return res, nil
}

// sellReason mirrors the live exit mapping for strategy-driven sells.
func sellReason(strategyName string) string {
	if strategyName == regime.StrategyGrid {
		return domain.ExitGridBreakout
	}
	return domain.ExitManual
}

func (e *Engine) filterRange(candles []domain.Candle) []domain.Candle {
	if e.cfg.Start.IsZero() && e.cfg.End.IsZero() {
		return candles
	}
	out := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		ts := c.Timestamp()
		if !e.cfg.Start.IsZero() && ts.Before(e.cfg.Start) {
			continue
		}
		if !e.cfg.End.IsZero() && ts.After(e.cfg.End) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// open fills a long entry at the close plus slippage and returns cost
// including the entry fee.
func (e *Engine) open(price float64, ts time.Time) (*simPosition, float64) {
	fill := price * (1 + e.cfg.SlippagePct/100)
	qty := e.cfg.PositionSize / fill
	fee := e.cfg.PositionSize * e.cfg.FeePct / 100
	plan := e.strat.ExitPlan()

	pos := &simPosition{
		entryTime:  ts,
		entryPrice: fill,
		quantity:   qty,
		stopLoss:   fill * (1 - plan.StopLossPct/100),
		takeProfit: fill * (1 + plan.TakeProfitPct/100),
		trailing:   plan.Trailing,
		trailPct:   plan.TrailingPct,
		maxHold:    plan.MaxHold,
		feesPaid:   fee,
		strategy:   e.strat.Name(),
	}
	if plan.UseLadder {
		for i, mult := range e.cfg.LadderMultiples {
			frac := 0.25
			if i < len(e.cfg.LadderFractions) {
				frac = e.cfg.LadderFractions[i]
			}
			pos.ladder = append(pos.ladder, domain.LadderRung{
				FractionToClose: frac,
				TargetPrice:     fill * (1 + plan.TakeProfitPct*mult/100),
			})
		}
	}
	return pos, e.cfg.PositionSize + fee
}

// step applies one candle close to an open position: trailing ratchet, then
// exit triggers in priority order. Returns sale proceeds for this candle and
// whether the position fully closed.
func (e *Engine) step(pos *simPosition, price float64, ts time.Time) (Trade, float64, bool) {
	if pos.trailing && pos.trailPct > 0 && price > pos.entryPrice {
		candidate := price * (1 - pos.trailPct/100)
		if candidate > pos.stopLoss {
			pos.stopLoss = candidate
		}
	}

	switch {
	case price <= pos.stopLoss:
		trade, proceeds := e.closeAll(pos, price, ts, domain.ExitStopLoss)
		return trade, proceeds, true
	case price >= pos.takeProfit:
		trade, proceeds := e.closeAll(pos, price, ts, domain.ExitTakeProfit)
		return trade, proceeds, true
	case pos.maxHold > 0 && ts.Sub(pos.entryTime) >= pos.maxHold:
		trade, proceeds := e.closeAll(pos, price, ts, domain.ExitMaxHold)
		return trade, proceeds, true
	}

	for i := range pos.ladder {
		rung := &pos.ladder[i]
		if rung.Hit || price < rung.TargetPrice {
			continue
		}
		rung.Hit = true
		qty := pos.quantity * rung.FractionToClose
		pos.closedFrac += rung.FractionToClose
		fill := price * (1 - e.cfg.SlippagePct/100)
		proceeds := qty * fill
		fee := proceeds * e.cfg.FeePct / 100
		pos.feesPaid += fee
		pos.realized += qty*(fill-pos.entryPrice) - fee
		return Trade{}, proceeds - fee, false
	}
	return Trade{}, 0, false
}

// closeAll sells the remaining quantity at the close minus slippage and
// folds any earlier partial fills into the trade record.
func (e *Engine) closeAll(pos *simPosition, price float64, ts time.Time, reason string) (Trade, float64) {
	qty := pos.remainingQty()
	fill := price * (1 - e.cfg.SlippagePct/100)
	proceeds := qty * fill
	fee := proceeds * e.cfg.FeePct / 100
	pos.feesPaid += fee
	// entry fee is charged against the trade here; partial fills already
	// deducted their own
	pnl := pos.realized + qty*(fill-pos.entryPrice) - fee - e.cfg.PositionSize*e.cfg.FeePct/100
	pos.closedFrac = 1

	return Trade{
		Strategy:   pos.strategy,
		EntryTime:  pos.entryTime,
		ExitTime:   ts,
		EntryPrice: pos.entryPrice,
		ExitPrice:  fill,
		Quantity:   pos.quantity,
		PnL:        pnl,
		Reason:     reason,
		Hold:       ts.Sub(pos.entryTime),
	}, proceeds - fee
}

func (e *Engine) metrics(trades []Trade, curve []EquityPoint, finalEquity, fees float64) Metrics {
	m := Metrics{
		TotalTrades: len(trades),
		FinalEquity: finalEquity,
		FeesPaid:    fees,
	}
	m.TotalReturnPct = (finalEquity - e.cfg.InitialCapital) / e.cfg.InitialCapital * 100

	var grossProfit, grossLoss float64
	var totalHold time.Duration
	for _, t := range trades {
		if t.PnL > 0 {
			m.Wins++
			grossProfit += t.PnL
		} else {
			m.Losses++
			grossLoss += -t.PnL
		}
		totalHold += t.Hold
	}
	if len(trades) > 0 {
		m.WinRate = float64(m.Wins) / float64(len(trades)) * 100
		m.AvgHold = totalHold / time.Duration(len(trades))
	}
	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	}

	peak := e.cfg.InitialCapital
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if dd := (peak - p.Equity) / peak * 100; dd > m.MaxDrawdownPct {
			m.MaxDrawdownPct = dd
		}
	}
	return m
}
