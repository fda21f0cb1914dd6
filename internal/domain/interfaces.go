package domain

import "context"

// Exchange defines the venue trading API used by the executor and monitors.
// Implementations must return typed errors classifiable with IsRetryable and
// IsNoChange so callers can make retry decisions.
type Exchange interface {
	GetBalance(ctx context.Context) (*AccountBalance, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	GetPosition(ctx context.Context, symbol string) (*VenuePosition, error)
	GetInstrument(ctx context.Context, symbol string) (*Instrument, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol, marginType string) error
	PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, qty float64, clientOrderID string, reduceOnly bool) (*Order, error)
	PlaceStopMarketOrder(ctx context.Context, symbol string, side OrderSide, qty, stopPrice float64) (*Order, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*Order, error)
	GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*Order, error)
	CancelAllOrders(ctx context.Context, symbol string) error
}

// Notifier delivers trade lifecycle events. Implementations are
// fire-and-forget: failures are logged, never returned into the trading path.
type Notifier interface {
	PositionOpened(symbol string, qty, price float64, rec *TradeRecommendation)
	PositionClosed(symbol string, qty, exitPrice, pnl float64, reason string)
	PartialClose(symbol string, qty, exitPrice, pnl float64, reason string)
	StopLossPlaced(symbol string, qty, stopPrice float64)
	TakeProfit(symbol string, level int, gainPct float64)
	Error(symbol, stage string, err error)
}

// TradeRepository persists executed trades and confluence events.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *TradeRecord) error
	ListTrades(ctx context.Context, limit int) ([]*TradeRecord, error)
	SaveConfluence(ctx context.Context, event *ConfluenceEvent) error
	ListConfluence(ctx context.Context, limit int) ([]*ConfluenceEvent, error)
	DailyPnL(ctx context.Context, day string) (float64, error)
}

// SnapshotStore persists the signal store image across restarts.
// Load returns (nil, nil) when no snapshot exists yet.
type SnapshotStore interface {
	Save(snap *SignalSnapshot) error
	Load() (*SignalSnapshot, error)
}
