package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"TradePilot/internal/model"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	// OrderStop is a trigger order, used for the protective stop leg.
	OrderStop OrderType = "STOP"
)

// OrderRequest carries everything needed to place one order. Prices are
// pre-snapped to the engine's tick size; implementations own any further
// exchange-specific lot/tick rounding.
type OrderRequest struct {
	Account      string
	Side         model.Side
	Type         OrderType
	Quantity     float64
	Price        float64 // limit price, 0 for market orders
	TriggerPrice float64 // stop trigger, 0 unless Type is OrderStop
	ReduceOnly   bool
	ClientID     string
}

// Position is the exchange-reported open position for one account. A zero
// Size means flat.
type Position struct {
	Side model.Side
	Size float64
}

// Client is the capability set the engine needs from an exchange. A Client is
// bound to a single instrument at construction. All calls are blocking network
// I/O from the caller's perspective; callers bound them with context timeouts.
type Client interface {
	Name() string
	GetCandles(ctx context.Context, timeframe string, limit int) ([]model.Candle, error)
	GetTicker(ctx context.Context) (float64, error)
	GetEquity(ctx context.Context, account string) (decimal.Decimal, error)
	GetPosition(ctx context.Context, account string) (Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	CancelAllOrders(ctx context.Context, account string) error
	TransferFunds(ctx context.Context, transferID, from, to string, amount decimal.Decimal) error
}
