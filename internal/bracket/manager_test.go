package bracket

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"TradePilot/internal/exchange"
	"TradePilot/internal/model"
	"TradePilot/internal/risk"
)

const testAccount = "unified-buy"

func testManager(client *exchange.PaperClient, side model.Side) *Manager {
	return NewManager(client, side, testAccount, Options{
		PositionPoll: 10 * time.Millisecond,
		CallTimeout:  5 * time.Millisecond,
		ExitRetries:  2,
		RetryBackoff: time.Millisecond,
		EntryWait:    time.Minute,
	})
}

func TestOpen_MarketEntryPlacesThreeOrders(t *testing.T) {
	client := exchange.NewPaperClient()
	client.SetPrice(0.2790) // already through the 0.2789 level
	m := testManager(client, model.SideBuy)
	br := risk.Bracket{TakeProfit: 0.2816, StopLoss: 0.2770}

	trade, err := m.Open(context.Background(), 10000, 0.2789, br)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if trade.Status != model.TradeOpen {
		t.Errorf("market entry should be OPEN immediately, got %s", trade.Status)
	}
	if trade.EntryPrice != 0.2790 {
		t.Errorf("entry price: got %.6f, want the fill price 0.2790", trade.EntryPrice)
	}

	placed := client.PlacedOrders()
	if len(placed) != 3 {
		t.Fatalf("expected entry + 2 exit legs, got %d orders", len(placed))
	}
	entry, tp, sl := placed[0].Req, placed[1].Req, placed[2].Req
	if entry.Type != exchange.OrderMarket || entry.Side != model.SideBuy || entry.ReduceOnly {
		t.Errorf("entry leg malformed: %+v", entry)
	}
	if tp.Type != exchange.OrderLimit || tp.Side != model.SideSell || !tp.ReduceOnly {
		t.Errorf("take-profit leg malformed: %+v", tp)
	}
	if math.Abs(tp.Price-0.2816) > 1e-9 {
		t.Errorf("take-profit price: got %.6f, want 0.2816", tp.Price)
	}
	if sl.Type != exchange.OrderStop || sl.Side != model.SideSell || !sl.ReduceOnly {
		t.Errorf("stop leg malformed: %+v", sl)
	}
	if math.Abs(sl.TriggerPrice-0.2770) > 1e-9 {
		t.Errorf("stop trigger: got %.6f, want 0.2770", sl.TriggerPrice)
	}
	if tp.Quantity != 10000 || sl.Quantity != 10000 {
		t.Error("exit legs must close the full position")
	}
}

func TestOpen_RestingEntryWhenPriceBelowLevel(t *testing.T) {
	client := exchange.NewPaperClient()
	client.SetPrice(0.2780) // pulled back under the level
	m := testManager(client, model.SideBuy)

	trade, err := m.Open(context.Background(), 100, 0.2789, risk.Bracket{TakeProfit: 0.2816, StopLoss: 0.2770})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if trade.Status != model.TradePending {
		t.Errorf("resting entry should start PENDING, got %s", trade.Status)
	}
	entry := client.PlacedOrders()[0].Req
	if entry.Type != exchange.OrderLimit {
		t.Errorf("entry type: got %s, want LIMIT", entry.Type)
	}
	if math.Abs(entry.Price-0.2789) > 1e-9 {
		t.Errorf("entry limit price: got %.6f, want the level 0.2789", entry.Price)
	}
}

func TestOpen_EntryRejectionPlacesNoExits(t *testing.T) {
	client := exchange.NewPaperClient()
	client.SetPrice(0.2790)
	client.RejectOrdersMatching(func(req exchange.OrderRequest) bool { return !req.ReduceOnly })
	m := testManager(client, model.SideBuy)

	trade, err := m.Open(context.Background(), 100, 0.2789, risk.Bracket{TakeProfit: 0.2816, StopLoss: 0.2770})
	if err == nil {
		t.Fatal("expected entry rejection")
	}
	if !errors.Is(err, model.ErrOrderRejected) {
		t.Errorf("expected ErrOrderRejected, got %v", err)
	}
	if trade != nil {
		t.Error("no trade should exist after a rejected entry")
	}
	for _, o := range client.PlacedOrders() {
		if o.Req.ReduceOnly {
			t.Fatal("no exit leg may be placed when the entry failed")
		}
	}
}

func TestOpen_DegradedProtectionAfterExitRetries(t *testing.T) {
	client := exchange.NewPaperClient()
	client.SetPrice(0.2790)
	client.RejectOrdersMatching(func(req exchange.OrderRequest) bool { return req.ReduceOnly })
	m := testManager(client, model.SideBuy)

	trade, err := m.Open(context.Background(), 100, 0.2789, risk.Bracket{TakeProfit: 0.2816, StopLoss: 0.2770})
	var dp *DegradedProtection
	if !errors.As(err, &dp) {
		t.Fatalf("expected DegradedProtection, got %v", err)
	}
	if dp.Leg != "take_profit" {
		t.Errorf("failing leg: got %s, want take_profit", dp.Leg)
	}
	if trade == nil {
		t.Fatal("the trade must be returned: the position is live")
	}
	if trade.Status != model.TradeOpen {
		t.Errorf("trade status: got %s, want OPEN", trade.Status)
	}
}

func TestOpen_FlattensStalePositionFirst(t *testing.T) {
	client := exchange.NewPaperClient()
	client.SetPrice(0.2790)
	// Leftover position from a dead process.
	if _, err := client.PlaceOrder(context.Background(), exchange.OrderRequest{
		Account: testAccount, Side: model.SideBuy, Type: exchange.OrderMarket, Quantity: 5, ClientID: "stale",
	}); err != nil {
		t.Fatalf("seed stale position: %v", err)
	}

	m := testManager(client, model.SideBuy)
	if _, err := m.Open(context.Background(), 100, 0.2789, risk.Bracket{TakeProfit: 0.2816, StopLoss: 0.2770}); err != nil {
		t.Fatalf("open: %v", err)
	}
	pos, _ := client.GetPosition(context.Background(), testAccount)
	if pos.Size != 100 {
		t.Errorf("stale position must be flattened before the entry: size %.2f, want 100", pos.Size)
	}
}

func TestWatch_ClosesWhenPositionFlat(t *testing.T) {
	client := exchange.NewPaperClient()
	client.SetPrice(0.2790)
	m := testManager(client, model.SideBuy)
	trade, err := m.Open(context.Background(), 100, 0.2789, risk.Bracket{TakeProfit: 0.2816, StopLoss: 0.2770})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Watch(context.Background(), trade) }()

	time.Sleep(25 * time.Millisecond)
	client.SetPrice(0.2816) // take-profit fills, position goes flat

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not observe the closure")
	}
	if trade.Status != model.TradeClosed {
		t.Errorf("trade status: got %s, want CLOSED", trade.Status)
	}
	if left := client.OpenOrders(testAccount); len(left) != 0 {
		t.Errorf("leftover exit orders must be cancelled, %d remain", len(left))
	}
}

func TestWatch_UnfilledEntryTimesOut(t *testing.T) {
	client := exchange.NewPaperClient()
	client.SetPrice(0.2780)
	m := testManager(client, model.SideBuy)
	m.entryWait = 20 * time.Millisecond

	trade := &model.ActiveTrade{
		Side:     model.SideBuy,
		Account:  testAccount,
		Quantity: 100,
		Status:   model.TradePending,
		OpenedAt: time.Now(),
	}
	err := m.Watch(context.Background(), trade)
	if !errors.Is(err, model.ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected for a stale entry, got %v", err)
	}
}

func TestClose_FlattensWithMarketOrder(t *testing.T) {
	client := exchange.NewPaperClient()
	client.SetPrice(0.2790)
	m := testManager(client, model.SideBuy)
	trade, err := m.Open(context.Background(), 100, 0.2789, risk.Bracket{TakeProfit: 0.2816, StopLoss: 0.2770})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := m.Close(context.Background(), trade); err != nil {
		t.Fatalf("close: %v", err)
	}
	pos, _ := client.GetPosition(context.Background(), testAccount)
	if pos.Size != 0 {
		t.Errorf("position should be flat after close, size %.2f", pos.Size)
	}
	if left := client.OpenOrders(testAccount); len(left) != 0 {
		t.Errorf("exit orders must be cancelled on close, %d remain", len(left))
	}
}
