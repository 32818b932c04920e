package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// Exit reasons recorded on close.
const (
	ExitStopLoss     = "stop-loss"
	ExitTakeProfit   = "take-profit"
	ExitLadder       = "ladder-target"
	ExitMaxHold      = "max-hold-time"
	ExitManual       = "manual"
	ExitEndOfRange   = "end-of-range"
	ExitGridBreakout = "grid-breakout"
)

// LadderRung is one partial take-profit level. Hit rungs stay in the list so
// the remaining fraction is always derivable.
type LadderRung struct {
	FractionToClose float64 `json:"fractionToClose"`
	TargetPrice     float64 `json:"targetPrice"`
	Hit             bool    `json:"hit"`
}

// Position is owned exclusively by the position manager: created on a filled
// entry, mutated on every price tick while open, closed on exit.
type Position struct {
	ID              string         `json:"id"`
	Symbol          string         `json:"symbol"`
	Strategy        string         `json:"strategy"`
	Side            Side           `json:"side"`
	EntryPrice      float64        `json:"entryPrice"`
	Quantity        float64        `json:"quantity"`
	Notional        float64        `json:"notional"`
	StopLossPrice   float64        `json:"stopLossPrice"`
	TakeProfitPrice float64        `json:"takeProfitPrice"`
	TrailingEnabled bool           `json:"trailingEnabled"`
	TrailingActive  bool           `json:"trailingActivated"`
	TrailingPct     float64        `json:"trailingPct"`
	Ladder          []LadderRung   `json:"takeProfitLadder,omitempty"`
	HighWaterPrice  float64        `json:"highWaterPrice"`
	LowWaterPrice   float64        `json:"lowWaterPrice"`
	CurrentPrice    float64        `json:"currentPrice"`
	UnrealizedPnL   float64        `json:"unrealizedPnL"`
	Status          PositionStatus `json:"status"`
	ExitReason      string         `json:"exitReason,omitempty"`
	ExitPrice       float64        `json:"exitPrice,omitempty"`
	RealizedPnL     float64        `json:"realizedPnL"`
	MaxHold         time.Duration  `json:"maxHold,omitempty"`
	OpenedAt        time.Time      `json:"openedAt"`
	ClosedAt        time.Time      `json:"closedAt,omitempty"`
}

// PnLAt returns the side-adjusted profit for qty closed at price.
func (p *Position) PnLAt(price, qty float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * qty
	}
	return (price - p.EntryPrice) * qty
}

// RemainingFraction is the fraction of the original quantity not yet closed
// by ladder rungs.
func (p *Position) RemainingFraction() float64 {
	remaining := 1.0
	for _, r := range p.Ladder {
		if r.Hit {
			remaining -= r.FractionToClose
		}
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}
