package risk

import (
	"fmt"
	"math"

	"TradePilot/internal/model"
)

// Params bundles the sizing and bracket policy knobs. All of them come from
// configuration; none are hard-wired.
type Params struct {
	RiskFraction       float64 // fraction of combined equity risked per trade
	LeverageCap        float64
	MarginSafetyFactor float64 // < 1, keeps the margin estimate clear of rejection
	RewardMultiple     float64 // reward as a multiple of the stop distance
	TPBufferFraction   float64 // extra take-profit buffer, proportional to entry
	TickSize           float64
	MinQty             float64
	MinNotional        float64
}

// Inputs are the fresh per-decision numbers. Equity is read at the decision
// point, never cached from an earlier tick.
type Inputs struct {
	AccountEquity  float64 // equity of the account trading this side
	CombinedEquity float64 // equity across both trading accounts
	EntryPrice     float64
	StopPrice      float64
}

// Quantity sizes one entry. The risk leg divides the risked amount by the stop
// distance; the margin leg caps by what the account can carry at the leverage
// cap. The smaller of the two wins, floored at MinQty. A zero stop distance or
// a result below the minimum notional is a SizingError, and the caller skips
// the trade rather than forcing an undersized order.
func Quantity(in Inputs, p Params) (float64, error) {
	stopDistance := math.Abs(in.EntryPrice - in.StopPrice)
	if stopDistance == 0 {
		return 0, &model.SizingError{
			Reason: model.ZeroStopDistance,
			Detail: fmt.Sprintf("entry %.8f equals stop", in.EntryPrice),
		}
	}
	riskAmount := in.CombinedEquity * p.RiskFraction
	byRisk := riskAmount / stopDistance
	byMargin := in.AccountEquity * p.LeverageCap / in.EntryPrice * p.MarginSafetyFactor
	qty := math.Round(math.Min(byRisk, byMargin))
	if qty < p.MinQty {
		qty = p.MinQty
	}
	if notional := qty * in.EntryPrice; notional < p.MinNotional {
		return 0, &model.SizingError{
			Reason: model.BelowMinNotional,
			Detail: fmt.Sprintf("notional %.4f below minimum %.4f", notional, p.MinNotional),
		}
	}
	return qty, nil
}

// Bracket holds the exit prices for one trade, snapped to tick size.
type Bracket struct {
	TakeProfit float64
	StopLoss   float64
}

// BracketPrices computes the take-profit and stop-loss for an entry. The
// reward is the stop distance times the reward multiple, padded by a buffer
// proportional to the entry price, added above the entry for buys and below
// for sells. The stop-loss is the confirmed run extreme.
func BracketPrices(side model.Side, entry, stop float64, p Params) Bracket {
	stopDistance := math.Abs(entry - stop)
	reward := stopDistance*p.RewardMultiple + entry*p.TPBufferFraction
	var tp float64
	if side == model.SideBuy {
		tp = entry + reward
	} else {
		tp = entry - reward
	}
	return Bracket{
		TakeProfit: SnapToTick(tp, p.TickSize),
		StopLoss:   SnapToTick(stop, p.TickSize),
	}
}

// SnapToTick rounds a price to the nearest multiple of the tick size.
func SnapToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
