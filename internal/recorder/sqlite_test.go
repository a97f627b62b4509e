package recorder

import (
	"path/filepath"
	"testing"
)

func openTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open recorder: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func count(t *testing.T, r *SQLiteRecorder, table string) int {
	t.Helper()
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestRecordTrade_Inserts(t *testing.T) {
	r := openTestRecorder(t)
	err := r.RecordTrade(&TradeEvent{
		EventType:  "OPEN",
		Side:       "BUY",
		Account:    "unified-buy",
		EntryPrice: 0.2790,
		Quantity:   10000,
		TakeProfit: 0.2816,
		StopLoss:   0.2770,
		Status:     "OPEN",
		OrderID:    "o-1",
	})
	if err != nil {
		t.Fatalf("record trade: %v", err)
	}
	if got := count(t, r, "trades"); got != 1 {
		t.Errorf("trades rows: got %d, want 1", got)
	}
}

func TestRecordRebalance_Inserts(t *testing.T) {
	r := openTestRecorder(t)
	err := r.RecordRebalance(&RebalanceRecord{
		Reason:      "SKEW",
		FromAccount: "unified-buy",
		ToAccount:   "unified-sell",
		Amount:      100,
		TransferID:  "tr_1",
	})
	if err != nil {
		t.Fatalf("record rebalance: %v", err)
	}
	if got := count(t, r, "rebalances"); got != 1 {
		t.Errorf("rebalances rows: got %d, want 1", got)
	}
}

func TestRecordSkip_Inserts(t *testing.T) {
	r := openTestRecorder(t)
	err := r.RecordSkip(&SkipEvent{
		EventType:  "SIZING_SKIP",
		Side:       "BUY",
		LevelPrice: 0.2789,
		StopPrice:  0.2770,
		Detail:     "notional below minimum",
	})
	if err != nil {
		t.Fatalf("record skip: %v", err)
	}
	if got := count(t, r, "skips"); got != 1 {
		t.Errorf("skips rows: got %d, want 1", got)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")
	r1, err := NewSQLiteRecorder(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	r1.Close()
	r2, err := NewSQLiteRecorder(path)
	if err != nil {
		t.Fatalf("second open should re-run migrations cleanly: %v", err)
	}
	r2.Close()
}
