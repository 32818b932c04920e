// Package position owns the open-position table and the full lifecycle of a
// position: level derivation at entry, watermark and trailing updates on
// every tick, exit trigger detection and realized P&L on close.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/strategy"
)

type ManagerConfig struct {
	// LadderMultiples place the partial take-profit rungs as multiples of
	// the strategy's target distance from entry.
	LadderMultiples []float64
	// LadderFractions is the share of the position each rung closes.
	LadderFractions []float64
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		LadderMultiples: []float64{0.5, 0.75, 1.0, 1.5},
		LadderFractions: []float64{0.25, 0.25, 0.25, 0.25},
	}
}

// OpenRequest describes a filled entry order.
type OpenRequest struct {
	Symbol     string
	Strategy   string
	Side       domain.Side
	EntryPrice float64
	Quantity   float64
	Plan       strategy.ExitPlan
	WithLadder bool
}

// ExitEvent is one exit trigger firing on a tick. Final is false for
// partial ladder exits.
type ExitEvent struct {
	PositionID string
	Symbol     string
	Reason     string
	Price      float64
	Quantity   float64
	PnL        float64
	Final      bool
}

// CloseListener receives every realized close, partial or final. The risk
// controller subscribes here.
type CloseListener func(pos *domain.Position, pnl float64, final bool)

// ExitExecutor places the exit order for qty at price. It runs before any
// position state changes; an error aborts the close and leaves the position
// open, so a failed order is never recorded as a realized trade.
type ExitExecutor func(ctx context.Context, symbol string, qty, price float64, reason string) error

// Manager is the single writer for all positions. Access is serialized per
// symbol so the decision loop and the monitor loop can never act on the
// same symbol's position concurrently.
type Manager struct {
	cfg    ManagerConfig
	repo   domain.PositionRepository
	logger *zap.Logger

	mu        sync.Mutex
	positions map[string]*domain.Position // id -> open position
	bySymbol  map[string]string           // symbol -> open position id
	symLocks  map[string]*sync.Mutex
	listeners []CloseListener
	exec      ExitExecutor
	now       func() time.Time
}

func NewManager(cfg ManagerConfig, repo domain.PositionRepository, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		repo:      repo,
		logger:    logger,
		positions: make(map[string]*domain.Position),
		bySymbol:  make(map[string]string),
		symLocks:  make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

// SetExitExecutor wires order placement into the close path. Without one,
// closes are recorded directly (backtests, tests).
func (m *Manager) SetExitExecutor(exec ExitExecutor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exec = exec
}

func (m *Manager) executor() ExitExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exec
}

// OnClose registers a listener for realized closes.
func (m *Manager) OnClose(l CloseListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) symbolLock(symbol string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.symLocks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		m.symLocks[symbol] = lock
	}
	return lock
}

// Restore reloads open positions from the repository after a restart.
func (m *Manager) Restore(ctx context.Context) error {
	open, err := m.repo.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore open positions: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range open {
		m.positions[pos.ID] = pos
		m.bySymbol[pos.Symbol] = pos.ID
	}
	if len(open) > 0 {
		m.logger.Info("restored open positions", zap.Int("count", len(open)))
	}
	return nil
}

// Open creates a position from a filled entry, deriving all exit levels
// once from the entry price and side.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*domain.Position, error) {
	if req.EntryPrice <= 0 || req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid entry: price=%f quantity=%f", req.EntryPrice, req.Quantity)
	}

	lock := m.symbolLock(req.Symbol)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if id, ok := m.bySymbol[req.Symbol]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("position %s already open for %s", id, req.Symbol)
	}
	m.mu.Unlock()

	pos := &domain.Position{
		ID:              uuid.NewString(),
		Symbol:          req.Symbol,
		Strategy:        req.Strategy,
		Side:            req.Side,
		EntryPrice:      req.EntryPrice,
		Quantity:        req.Quantity,
		Notional:        req.EntryPrice * req.Quantity,
		TrailingEnabled: req.Plan.Trailing,
		TrailingPct:     req.Plan.TrailingPct,
		HighWaterPrice:  req.EntryPrice,
		LowWaterPrice:   req.EntryPrice,
		CurrentPrice:    req.EntryPrice,
		Status:          domain.StatusOpen,
		MaxHold:         req.Plan.MaxHold,
		OpenedAt:        m.now(),
	}
	pos.StopLossPrice = sideLevel(req.Side, req.EntryPrice, -req.Plan.StopLossPct)
	pos.TakeProfitPrice = sideLevel(req.Side, req.EntryPrice, req.Plan.TakeProfitPct)
	if req.WithLadder && req.Plan.UseLadder {
		pos.Ladder = m.buildLadder(req.Side, req.EntryPrice, req.Plan.TakeProfitPct)
	}

	if err := m.repo.SavePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("persist position: %w", err)
	}

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.bySymbol[pos.Symbol] = pos.ID
	m.mu.Unlock()

	m.logger.Info("position opened",
		zap.String("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.String("strategy", pos.Strategy),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("stopLoss", pos.StopLossPrice),
		zap.Float64("takeProfit", pos.TakeProfitPrice))
	return pos, nil
}

// sideLevel derives a price level pct percent in the favorable (positive)
// or adverse (negative) direction for the side.
func sideLevel(side domain.Side, entry, pct float64) float64 {
	if side == domain.SideShort {
		return entry * (1 - pct/100)
	}
	return entry * (1 + pct/100)
}

func (m *Manager) buildLadder(side domain.Side, entry, targetPct float64) []domain.LadderRung {
	rungs := make([]domain.LadderRung, 0, len(m.cfg.LadderMultiples))
	for i, mult := range m.cfg.LadderMultiples {
		fraction := 0.25
		if i < len(m.cfg.LadderFractions) {
			fraction = m.cfg.LadderFractions[i]
		}
		rungs = append(rungs, domain.LadderRung{
			FractionToClose: fraction,
			TargetPrice:     sideLevel(side, entry, targetPct*mult),
		})
	}
	return rungs
}

// OnPriceTick updates watermarks, ratchets the trailing stop and checks exit
// triggers in priority order. At most one trigger fires per tick; the whole
// update is serialized per symbol and is never left half applied.
func (m *Manager) OnPriceTick(ctx context.Context, symbol string, price float64) ([]ExitEvent, error) {
	if price <= 0 {
		return nil, fmt.Errorf("invalid price %f for %s", price, symbol)
	}

	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	id, ok := m.bySymbol[symbol]
	pos := m.positions[id]
	m.mu.Unlock()
	if !ok || pos == nil || pos.Status != domain.StatusOpen {
		return nil, nil
	}

	pos.CurrentPrice = price
	if price > pos.HighWaterPrice {
		pos.HighWaterPrice = price
	}
	if price < pos.LowWaterPrice {
		pos.LowWaterPrice = price
	}
	remainingQty := pos.Quantity * pos.RemainingFraction()
	pos.UnrealizedPnL = pos.PnLAt(price, remainingQty)

	m.ratchetTrailing(pos, price)

	var events []ExitEvent
	switch {
	case m.stopTouched(pos, price):
		ev, err := m.closeLocked(ctx, pos, price, domain.ExitStopLoss)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)

	case m.targetTouched(pos, price):
		ev, err := m.closeLocked(ctx, pos, price, domain.ExitTakeProfit)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)

	case m.maxHoldExceeded(pos):
		ev, err := m.closeLocked(ctx, pos, price, domain.ExitMaxHold)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)

	default:
		if ev, hit := m.ladderTouched(ctx, pos, price); hit {
			events = append(events, ev)
		}
	}

	if len(events) == 0 {
		if err := m.repo.UpdatePosition(ctx, pos); err != nil {
			m.logger.Error("persist tick update", zap.String("id", pos.ID), zap.Error(err))
		}
	}
	return events, nil
}

// ratchetTrailing recomputes a candidate trailing stop and moves the stored
// stop only in the profit-favorable direction. It never loosens.
func (m *Manager) ratchetTrailing(pos *domain.Position, price float64) {
	if !pos.TrailingEnabled || pos.TrailingPct <= 0 {
		return
	}
	remainingQty := pos.Quantity * pos.RemainingFraction()
	if pos.PnLAt(price, remainingQty) <= 0 {
		return
	}

	if pos.Side == domain.SideLong {
		candidate := price * (1 - pos.TrailingPct/100)
		if candidate > pos.StopLossPrice {
			pos.StopLossPrice = candidate
			pos.TrailingActive = true
		}
	} else {
		candidate := price * (1 + pos.TrailingPct/100)
		if candidate < pos.StopLossPrice {
			pos.StopLossPrice = candidate
			pos.TrailingActive = true
		}
	}
}

func (m *Manager) stopTouched(pos *domain.Position, price float64) bool {
	if pos.Side == domain.SideShort {
		return price >= pos.StopLossPrice
	}
	return price <= pos.StopLossPrice
}

func (m *Manager) targetTouched(pos *domain.Position, price float64) bool {
	if pos.Side == domain.SideShort {
		return price <= pos.TakeProfitPrice
	}
	return price >= pos.TakeProfitPrice
}

func (m *Manager) maxHoldExceeded(pos *domain.Position) bool {
	return pos.MaxHold > 0 && m.now().Sub(pos.OpenedAt) >= pos.MaxHold
}

// ladderTouched fires the first un-hit rung the price has reached.
func (m *Manager) ladderTouched(ctx context.Context, pos *domain.Position, price float64) (ExitEvent, bool) {
	for i := range pos.Ladder {
		rung := &pos.Ladder[i]
		if rung.Hit {
			continue
		}
		touched := price >= rung.TargetPrice
		if pos.Side == domain.SideShort {
			touched = price <= rung.TargetPrice
		}
		if !touched {
			continue
		}

		qty := pos.Quantity * rung.FractionToClose
		if exec := m.executor(); exec != nil {
			if err := exec(ctx, pos.Symbol, qty, price, domain.ExitLadder); err != nil {
				// rung stays un-hit and fires again on the next tick
				m.logger.Error("execute ladder exit",
					zap.String("id", pos.ID),
					zap.Float64("target", rung.TargetPrice),
					zap.Error(err))
				return ExitEvent{}, false
			}
		}

		rung.Hit = true
		pnl := pos.PnLAt(price, qty)
		pos.RealizedPnL += pnl

		if err := m.repo.UpdatePosition(ctx, pos); err != nil {
			m.logger.Error("persist ladder fill", zap.String("id", pos.ID), zap.Error(err))
		}
		m.notify(pos, pnl, false)
		m.logger.Info("ladder rung filled",
			zap.String("id", pos.ID),
			zap.Float64("target", rung.TargetPrice),
			zap.Float64("fraction", rung.FractionToClose),
			zap.Float64("pnl", pnl))

		return ExitEvent{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Reason:     domain.ExitLadder,
			Price:      price,
			Quantity:   qty,
			PnL:        pnl,
			Final:      false,
		}, true
	}
	return ExitEvent{}, false
}

// Close closes the remaining quantity at exitPrice. Used for manual and
// strategy-driven exits; trigger exits route through OnPriceTick.
func (m *Manager) Close(ctx context.Context, id string, exitPrice float64, reason string) (*domain.Position, error) {
	m.mu.Lock()
	pos, ok := m.positions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no open position %s", id)
	}

	lock := m.symbolLock(pos.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if pos.Status != domain.StatusOpen {
		return nil, fmt.Errorf("position %s already closed", id)
	}
	_, err := m.closeLocked(ctx, pos, exitPrice, reason)
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// closeLocked finalizes the position. Caller holds the symbol lock. The exit
// order is placed first; if it fails the position is left untouched.
func (m *Manager) closeLocked(ctx context.Context, pos *domain.Position, exitPrice float64, reason string) (ExitEvent, error) {
	qty := pos.Quantity * pos.RemainingFraction()
	if exec := m.executor(); exec != nil {
		if err := exec(ctx, pos.Symbol, qty, exitPrice, reason); err != nil {
			return ExitEvent{}, fmt.Errorf("execute exit for %s: %w", pos.Symbol, err)
		}
	}
	pnl := pos.PnLAt(exitPrice, qty)

	pos.Status = domain.StatusClosed
	pos.ExitReason = reason
	pos.ExitPrice = exitPrice
	pos.RealizedPnL += pnl
	pos.UnrealizedPnL = 0
	pos.ClosedAt = m.now()

	if err := m.repo.UpdatePosition(ctx, pos); err != nil {
		// The in-memory close stands; persistence is retried by the caller's
		// next sync, not by re-running the close.
		m.logger.Error("persist close", zap.String("id", pos.ID), zap.Error(err))
	}

	m.mu.Lock()
	delete(m.positions, pos.ID)
	delete(m.bySymbol, pos.Symbol)
	m.mu.Unlock()

	m.notify(pos, pnl, true)
	m.logger.Info("position closed",
		zap.String("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("reason", reason),
		zap.Float64("exit", exitPrice),
		zap.Float64("pnl", pos.RealizedPnL))

	return ExitEvent{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Reason:     reason,
		Price:      exitPrice,
		Quantity:   qty,
		PnL:        pnl,
		Final:      true,
	}, nil
}

func (m *Manager) notify(pos *domain.Position, pnl float64, final bool) {
	m.mu.Lock()
	listeners := make([]CloseListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, l := range listeners {
		l(pos, pnl, final)
	}
}

// HasOpen reports whether the symbol has an open position.
func (m *Manager) HasOpen(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bySymbol[symbol]
	return ok
}

// Get returns the open position by id.
func (m *Manager) Get(id string) (*domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	return pos, ok
}

// OpenPositions snapshots all open positions.
func (m *Manager) OpenPositions() []*domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	return out
}

// OpenSymbols lists symbols with an open position, for the monitor loop.
func (m *Manager) OpenSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.bySymbol))
	for symbol := range m.bySymbol {
		out = append(out, symbol)
	}
	return out
}

// SetClock replaces the wall clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
