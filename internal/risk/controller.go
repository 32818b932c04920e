// Package risk enforces account-level limits: a consecutive-loss circuit
// breaker, exposure caps, drawdown tracking, historical VaR and Kelly-based
// position sizing. One controller instance guards the whole account.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_engine/internal/domain"
)

type Config struct {
	MaxConsecutiveLosses int
	Cooldown             time.Duration

	MaxSymbolExposurePct float64
	MaxTotalExposurePct  float64

	DrawdownAlertPct float64

	KellySafetyFraction float64
	MinTradesForVaR     int
	MinNotional         float64
}

func DefaultConfig() Config {
	return Config{
		MaxConsecutiveLosses: 3,
		Cooldown:             60 * time.Minute,
		MaxSymbolExposurePct: 25,
		MaxTotalExposurePct:  75,
		DrawdownAlertPct:     20,
		KellySafetyFraction:  0.25,
		MinTradesForVaR:      10,
		MinNotional:          10,
	}
}

// Decision is a structured accept/reject, returned before any state
// mutation. A rejection is not an error.
type Decision struct {
	OK     bool
	Reason string
}

func allow() Decision { return Decision{OK: true} }

func reject(format string, args ...any) Decision {
	return Decision{OK: false, Reason: fmt.Sprintf(format, args...)}
}

// Controller owns the process-wide risk state.
type Controller struct {
	cfg    Config
	logger *zap.Logger

	mu                sync.Mutex
	consecutiveLosses int
	circuitTripped    bool
	trippedAt         time.Time
	realized          float64
	equityPeak        float64
	wins              int
	losses            int
	sumWins           float64
	sumLosses         float64
	tradeReturns      []float64 // per-trade P&L as % of portfolio at close
	now               func() time.Time
}

func NewController(cfg Config, logger *zap.Logger) *Controller {
	return &Controller{cfg: cfg, logger: logger, now: time.Now}
}

// CheckEntry validates a prospective entry against the circuit breaker and
// exposure caps. openPositions is the current open set across all symbols.
func (c *Controller) CheckEntry(symbol string, notional float64, openPositions []*domain.Position, portfolioValue float64) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if notional < c.cfg.MinNotional {
		return reject("notional %.2f below minimum %.2f", notional, c.cfg.MinNotional)
	}
	if portfolioValue <= 0 {
		return reject("portfolio value %.2f is not positive", portfolioValue)
	}

	if c.circuitTripped {
		if c.now().Sub(c.trippedAt) >= c.cfg.Cooldown {
			c.resetCircuitLocked("cooldown elapsed")
		} else {
			remaining := c.cfg.Cooldown - c.now().Sub(c.trippedAt)
			return reject("circuit breaker tripped after %d consecutive losses, %s of cooldown remaining",
				c.cfg.MaxConsecutiveLosses, remaining.Round(time.Second))
		}
	}

	var symbolExposure, totalExposure float64
	for _, pos := range openPositions {
		totalExposure += pos.Notional
		if pos.Symbol == symbol {
			symbolExposure += pos.Notional
		}
	}

	symbolPct := (symbolExposure + notional) / portfolioValue * 100
	if symbolPct > c.cfg.MaxSymbolExposurePct {
		return reject("symbol exposure %.1f%% would exceed cap %.1f%% for %s",
			symbolPct, c.cfg.MaxSymbolExposurePct, symbol)
	}
	totalPct := (totalExposure + notional) / portfolioValue * 100
	if totalPct > c.cfg.MaxTotalExposurePct {
		return reject("total exposure %.1f%% would exceed cap %.1f%%",
			totalPct, c.cfg.MaxTotalExposurePct)
	}

	return allow()
}

// RecordClose feeds a realized trade result into the breaker, the drawdown
// tracker and the VaR/Kelly history. portfolioValue is the account value at
// close time.
func (c *Controller) RecordClose(pnl, portfolioValue float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pnl < 0 {
		c.consecutiveLosses++
		c.losses++
		c.sumLosses += -pnl
		if !c.circuitTripped && c.consecutiveLosses >= c.cfg.MaxConsecutiveLosses {
			c.circuitTripped = true
			c.trippedAt = c.now()
			c.logger.Warn("circuit breaker tripped",
				zap.Int("consecutiveLosses", c.consecutiveLosses),
				zap.Duration("cooldown", c.cfg.Cooldown))
		}
	} else if pnl > 0 {
		c.consecutiveLosses = 0
		c.wins++
		c.sumWins += pnl
	}

	c.realized += pnl
	if c.realized > c.equityPeak {
		c.equityPeak = c.realized
	}

	if portfolioValue > 0 {
		c.tradeReturns = append(c.tradeReturns, pnl/portfolioValue*100)
	}
}

// ResetCircuit clears the breaker manually.
func (c *Controller) ResetCircuit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetCircuitLocked("manual reset")
}

func (c *Controller) resetCircuitLocked(cause string) {
	if c.circuitTripped {
		c.logger.Info("circuit breaker reset", zap.String("cause", cause))
	}
	c.circuitTripped = false
	c.consecutiveLosses = 0
	c.trippedAt = time.Time{}
}

// Drawdown reports current drawdown from the equity peak in percent of the
// peak, and whether it exceeds the alert threshold. The alert never blocks
// entries.
func (c *Controller) Drawdown() (pct float64, alert bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drawdownLocked()
}

func (c *Controller) drawdownLocked() (float64, bool) {
	if c.equityPeak <= 0 {
		return 0, false
	}
	dd := (c.equityPeak - c.realized) / c.equityPeak * 100
	if dd < 0 {
		dd = 0
	}
	return dd, dd > c.cfg.DrawdownAlertPct
}

// VaRReport holds percentile losses as % of portfolio, scaled to longer
// horizons by the square root of time.
type VaRReport struct {
	Daily95   float64
	Daily99   float64
	Weekly95  float64
	Weekly99  float64
	Monthly95 float64
	Monthly99 float64
	Samples   int
}

// VaR computes historical value-at-risk from recorded per-trade returns.
func (c *Controller) VaR() (*VaRReport, error) {
	c.mu.Lock()
	returns := make([]float64, len(c.tradeReturns))
	copy(returns, c.tradeReturns)
	c.mu.Unlock()

	if len(returns) < c.cfg.MinTradesForVaR {
		return nil, fmt.Errorf("need at least %d closed trades for VaR, have %d", c.cfg.MinTradesForVaR, len(returns))
	}

	p5, err := stats.PercentileNearestRank(returns, 5)
	if err != nil {
		return nil, fmt.Errorf("percentile: %w", err)
	}
	p1, err := stats.PercentileNearestRank(returns, 1)
	if err != nil {
		return nil, fmt.Errorf("percentile: %w", err)
	}

	var95 := math.Abs(math.Min(p5, 0))
	var99 := math.Abs(math.Min(p1, 0))
	return &VaRReport{
		Daily95:   var95,
		Daily99:   var99,
		Weekly95:  var95 * math.Sqrt(7),
		Weekly99:  var99 * math.Sqrt(7),
		Monthly95: var95 * math.Sqrt(30),
		Monthly99: var99 * math.Sqrt(30),
		Samples:   len(returns),
	}, nil
}

// KellyResult is a sizing recommendation.
type KellyResult struct {
	Fraction       float64 // applied fraction of portfolio, after clamp and safety scaling
	Size           float64 // quote size for the given portfolio value
	Recommendation string
}

// Kelly computes the Kelly-optimal fraction (p*b-q)/b, clamps it to
// [0, 0.5] and scales by the safety fraction. winRatePct is 0..100.
func Kelly(winRatePct, avgWin, avgLoss, portfolioValue, safetyFraction float64) KellyResult {
	if avgLoss <= 0 || avgWin <= 0 {
		return KellyResult{Recommendation: "not profitable: insufficient win/loss data"}
	}
	b := avgWin / avgLoss
	p := winRatePct / 100
	q := 1 - p

	f := (p*b - q) / b
	if f <= 0 {
		return KellyResult{Recommendation: "not profitable: negative edge, do not size up"}
	}
	if f > 0.5 {
		f = 0.5
	}
	applied := f * safetyFraction
	size := portfolioValue * applied
	return KellyResult{
		Fraction: applied,
		Size:     size,
		Recommendation: fmt.Sprintf("kelly fraction %.1f%% of portfolio (%.1f%% raw, %.2f safety): size %.2f",
			applied*100, f*100, safetyFraction, size),
	}
}

// KellySize derives the recommendation from the controller's own trade
// history.
func (c *Controller) KellySize(portfolioValue float64) KellyResult {
	c.mu.Lock()
	wins, losses := c.wins, c.losses
	sumWins, sumLosses := c.sumWins, c.sumLosses
	c.mu.Unlock()

	total := wins + losses
	if total == 0 {
		return KellyResult{Recommendation: "not profitable: no closed trades yet"}
	}
	var avgWin, avgLoss float64
	if wins > 0 {
		avgWin = sumWins / float64(wins)
	}
	if losses > 0 {
		avgLoss = sumLosses / float64(losses)
	}
	winRate := float64(wins) / float64(total) * 100
	return Kelly(winRate, avgWin, avgLoss, portfolioValue, c.cfg.KellySafetyFraction)
}

// Summary is the RiskState snapshot exposed to collaborators.
type Summary struct {
	ConsecutiveLosses int                `json:"consecutiveLosses"`
	CircuitTripped    bool               `json:"circuitTripped"`
	TrippedAt         time.Time          `json:"trippedAt,omitempty"`
	Cooldown          string             `json:"cooldown"`
	RealizedPnL       float64            `json:"realizedPnL"`
	EquityPeak        float64            `json:"equityPeak"`
	DrawdownPct       float64            `json:"drawdownPct"`
	DrawdownAlert     bool               `json:"drawdownAlert"`
	SymbolExposurePct map[string]float64 `json:"symbolExposurePct"`
	TotalExposurePct  float64            `json:"totalExposurePct"`
	Alerts            []string           `json:"alerts,omitempty"`
}

// Summarize snapshots risk state against the current open positions.
func (c *Controller) Summarize(openPositions []*domain.Position, portfolioValue float64) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		ConsecutiveLosses: c.consecutiveLosses,
		CircuitTripped:    c.circuitTripped,
		TrippedAt:         c.trippedAt,
		Cooldown:          c.cfg.Cooldown.String(),
		RealizedPnL:       c.realized,
		EquityPeak:        c.equityPeak,
		SymbolExposurePct: make(map[string]float64),
	}
	s.DrawdownPct, s.DrawdownAlert = c.drawdownLocked()

	if portfolioValue > 0 {
		var total float64
		for _, pos := range openPositions {
			s.SymbolExposurePct[pos.Symbol] += pos.Notional / portfolioValue * 100
			total += pos.Notional
		}
		s.TotalExposurePct = total / portfolioValue * 100
	}

	if s.CircuitTripped {
		s.Alerts = append(s.Alerts, "circuit breaker tripped: new entries halted")
	}
	if s.DrawdownAlert {
		s.Alerts = append(s.Alerts, fmt.Sprintf("drawdown %.1f%% exceeds alert threshold %.1f%%", s.DrawdownPct, c.cfg.DrawdownAlertPct))
	}
	return s
}

// SetClock replaces the wall clock, for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
