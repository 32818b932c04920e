package domain

import "context"

// Exchange defines the boundary to the live price/candle/order collaborator.
type Exchange interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	MarketBuy(ctx context.Context, symbol string, quoteAmount float64) error
	MarketSell(ctx context.Context, symbol string, quoteAmount float64) error
	OnPriceUpdate(callback func(symbol string, price float64))
	Subscribe(symbols []string) error
}

// PositionRepository defines storage operations for positions and closed trades.
type PositionRepository interface {
	SavePosition(ctx context.Context, pos *Position) error
	UpdatePosition(ctx context.Context, pos *Position) error
	GetOpenPositions(ctx context.Context) ([]*Position, error)
	GetOpenBySymbol(ctx context.Context, symbol string) (*Position, error)
	ListClosed(ctx context.Context, limit int) ([]*Position, error)
}
