package risk

import (
	"math"
	"testing"

	"TradePilot/internal/model"
)

var testParams = Params{
	RiskFraction:       0.10,
	LeverageCap:        75,
	MarginSafetyFactor: 0.9,
	RewardMultiple:     1.2,
	TPBufferFraction:   0.0007,
	TickSize:           0.0001,
	MinQty:             1,
	MinNotional:        5,
}

func TestQuantity_RiskLegWins(t *testing.T) {
	in := Inputs{
		AccountEquity:  600,
		CombinedEquity: 1000,
		EntryPrice:     0.30,
		StopPrice:      0.29,
	}
	qty, err := Quantity(in, testParams)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// risked 100 over a 0.01 stop distance; margin allows far more
	if qty != 10000 {
		t.Errorf("qty: got %.2f, want 10000", qty)
	}
}

func TestQuantity_MarginLegCaps(t *testing.T) {
	in := Inputs{
		AccountEquity:  10,
		CombinedEquity: 1000,
		EntryPrice:     0.30,
		StopPrice:      0.29,
	}
	qty, err := Quantity(in, testParams)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10 * 75 / 0.30 * 0.9 = 2250, well below the 10000 the risk leg allows
	if qty != 2250 {
		t.Errorf("qty: got %.2f, want 2250", qty)
	}
}

func TestQuantity_ZeroStopDistance(t *testing.T) {
	in := Inputs{
		AccountEquity:  600,
		CombinedEquity: 1000,
		EntryPrice:     0.30,
		StopPrice:      0.30,
	}
	_, err := Quantity(in, testParams)
	se, ok := model.AsSizingError(err)
	if !ok {
		t.Fatalf("expected SizingError, got %v", err)
	}
	if se.Reason != model.ZeroStopDistance {
		t.Errorf("reason: got %s, want %s", se.Reason, model.ZeroStopDistance)
	}
}

func TestQuantity_BelowMinNotional(t *testing.T) {
	in := Inputs{
		AccountEquity:  1,
		CombinedEquity: 1,
		EntryPrice:     0.30,
		StopPrice:      0.29,
	}
	_, err := Quantity(in, testParams)
	se, ok := model.AsSizingError(err)
	if !ok {
		t.Fatalf("expected SizingError, got %v", err)
	}
	if se.Reason != model.BelowMinNotional {
		t.Errorf("reason: got %s, want %s", se.Reason, model.BelowMinNotional)
	}
}

func TestQuantity_FlooredAtMinQty(t *testing.T) {
	p := testParams
	p.MinQty = 10
	p.MinNotional = 0.5
	in := Inputs{
		AccountEquity:  100,
		CombinedEquity: 0.1, // risk leg rounds to zero
		EntryPrice:     0.30,
		StopPrice:      0.29,
	}
	qty, err := Quantity(in, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qty != 10 {
		t.Errorf("qty should floor at MinQty: got %.2f, want 10", qty)
	}
}

func TestBracketPrices_Buy(t *testing.T) {
	br := BracketPrices(model.SideBuy, 0.2790, 0.2770, testParams)
	// reward = 0.0020*1.2 + 0.2790*0.0007 = 0.0025953 -> tp 0.2815953 -> 0.2816
	if math.Abs(br.TakeProfit-0.2816) > 1e-9 {
		t.Errorf("take profit: got %.6f, want 0.2816", br.TakeProfit)
	}
	if math.Abs(br.StopLoss-0.2770) > 1e-9 {
		t.Errorf("stop loss: got %.6f, want 0.2770", br.StopLoss)
	}
	if br.TakeProfit <= 0.2790 {
		t.Error("buy take profit must sit above the entry")
	}
}

func TestBracketPrices_Sell(t *testing.T) {
	br := BracketPrices(model.SideSell, 0.2790, 0.2810, testParams)
	if br.TakeProfit >= 0.2790 {
		t.Error("sell take profit must sit below the entry")
	}
	if math.Abs(br.StopLoss-0.2810) > 1e-9 {
		t.Errorf("stop loss: got %.6f, want 0.2810", br.StopLoss)
	}
	// Mirror of the buy case: same distance below the entry.
	buyBr := BracketPrices(model.SideBuy, 0.2790, 0.2770, testParams)
	if math.Abs((0.2790-br.TakeProfit)-(buyBr.TakeProfit-0.2790)) > 1e-9 {
		t.Error("buy and sell rewards should be symmetric")
	}
}

func TestSnapToTick(t *testing.T) {
	tests := []struct {
		price, tick, want float64
	}{
		{0.28156, 0.0001, 0.2816},
		{0.28154, 0.0001, 0.2815},
		{0.2816, 0.0001, 0.2816},
		{101.3, 0.5, 101.5},
		{0.2816, 0, 0.2816}, // no tick, unchanged
	}
	for _, tt := range tests {
		if got := SnapToTick(tt.price, tt.tick); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("SnapToTick(%.5f, %.4f): got %.5f, want %.5f", tt.price, tt.tick, got, tt.want)
		}
	}
}
