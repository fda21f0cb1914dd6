package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OrderSide is the direction field sent to the venue.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// Position is an open futures position tracked by the risk manager.
// Quantity shrinks on partial closes; OriginalQty keeps the opening size so
// pyramid fractions stay anchored to it.
type Position struct {
	Symbol        string
	Side          Side
	Quantity      float64
	OriginalQty   float64
	EntryPrice    float64
	Leverage      int
	MarginType    string
	MarkPrice     float64
	HighWater     float64
	TrailingArmed bool
	TrailingPrice float64
	FiredLevels   map[int]bool
	RiskReduced   bool
	LiqWarned     bool
	StopOrderID   int64
	ClientOrderID string
	OpenedAt      time.Time
}

// Clone returns a copy safe to read outside the risk manager lock.
func (p *Position) Clone() *Position {
	cp := *p
	cp.FiredLevels = make(map[int]bool, len(p.FiredLevels))
	for k, v := range p.FiredLevels {
		cp.FiredLevels[k] = v
	}
	return &cp
}

// GainPercent is the unrealized move from entry at the given price, in percent.
func (p *Position) GainPercent(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// VenuePosition is the position state as reported by the exchange.
// Quantity is signed: negative means short.
type VenuePosition struct {
	Symbol           string
	Quantity         float64
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	Leverage         int
	UnrealizedPnL    float64
}

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Order is a venue order as returned by the trading API. Reconstructed marks
// orders synthesized from observed position state after a request timeout.
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          string
	Status        OrderStatus
	OrigQty       float64
	ExecutedQty   float64
	AvgPrice      float64
	StopPrice     float64
	Reconstructed bool
	Time          time.Time
}

// Filled reports whether the order executed any quantity.
func (o *Order) Filled() bool {
	return o.Status == OrderStatusFilled || o.ExecutedQty > 0
}

// TradeRecord is a completed executor action persisted for the audit trail.
type TradeRecord struct {
	ID          int64
	Symbol      string
	Action      string // "open", "close", "partial_close"
	Side        OrderSide
	Quantity    float64
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64
	Reason      string
	Score       float64
	CreatedAt   time.Time
}
