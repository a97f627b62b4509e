package model

import "time"

// Side of a trade or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for this side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// DirectionalRun accumulates while consecutive smoothed candles keep the same
// body sign. Bullish runs track their minimum low, bearish runs their maximum
// high; the extreme becomes the stop price when the run confirms a level.
type DirectionalRun struct {
	Bullish   bool      `json:"bullish"`
	Extreme   float64   `json:"extreme"`
	StartedAt time.Time `json:"started_at"`
	Candles   int       `json:"candles"`
}

// ConfirmedLevel is a validated breakout price awaiting its trigger. At most
// one level per side is armed at any time.
type ConfirmedLevel struct {
	Side        Side      `json:"side"`
	LevelPrice  float64   `json:"level_price"`
	StopPrice   float64   `json:"stop_price"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the level's validity window has passed.
func (l ConfirmedLevel) Expired(now time.Time) bool { return now.After(l.ExpiresAt) }

// TradeStatus is the lifecycle stage of an active trade.
type TradeStatus string

const (
	TradePending TradeStatus = "PENDING"
	TradeOpen    TradeStatus = "OPEN"
	TradeClosing TradeStatus = "CLOSING"
	TradeClosed  TradeStatus = "CLOSED"
)

// ActiveTrade is one bracketed position. A side must reach TradeClosed before
// a new entry for that side may open.
type ActiveTrade struct {
	Side         Side        `json:"side"`
	Account      string      `json:"account"`
	EntryPrice   float64     `json:"entry_price"`
	Quantity     float64     `json:"quantity"`
	TakeProfit   float64     `json:"take_profit"`
	StopLoss     float64     `json:"stop_loss"`
	Status       TradeStatus `json:"status"`
	OpenedAt     time.Time   `json:"opened_at"`
	EntryOrderID string      `json:"entry_order_id,omitempty"`
	TakeProfitID string      `json:"take_profit_id,omitempty"`
	StopLossID   string      `json:"stop_loss_id,omitempty"`
}
