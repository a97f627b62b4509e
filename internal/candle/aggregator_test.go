package candle

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"TradePilot/internal/exchange"
	"TradePilot/internal/model"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) model.Candle {
	return model.Candle{
		Time: t0.Add(time.Duration(i) * 30 * time.Minute),
		Open: o, High: h, Low: l, Close: c,
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSmooth_FirstBarFromMidpoint(t *testing.T) {
	raw := []model.Candle{bar(0, 0.280, 0.284, 0.278, 0.282)}
	out, seed := Smooth(raw, Seed{})
	if len(out) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(out))
	}
	wantClose := (0.280 + 0.284 + 0.278 + 0.282) / 4
	wantOpen := (0.280 + 0.282) / 2
	if !approx(out[0].Close, wantClose) {
		t.Errorf("close: got %.8f, want %.8f", out[0].Close, wantClose)
	}
	if !approx(out[0].Open, wantOpen) {
		t.Errorf("open: got %.8f, want %.8f", out[0].Open, wantOpen)
	}
	if !seed.Valid {
		t.Error("seed should be valid after smoothing")
	}
	if !approx(seed.Open, out[0].Open) || !approx(seed.Close, out[0].Close) {
		t.Error("seed should carry the last smoothed bar's open and close")
	}
}

func TestSmooth_Recurrence(t *testing.T) {
	raw := []model.Candle{
		bar(0, 0.280, 0.284, 0.278, 0.282),
		bar(1, 0.282, 0.286, 0.281, 0.285),
		bar(2, 0.285, 0.287, 0.283, 0.284),
	}
	out, _ := Smooth(raw, Seed{})
	for i := 1; i < len(out); i++ {
		wantOpen := (out[i-1].Open + out[i-1].Close) / 2
		if !approx(out[i].Open, wantOpen) {
			t.Errorf("bar %d open: got %.8f, want midpoint %.8f", i, out[i].Open, wantOpen)
		}
		r := raw[i]
		wantClose := (r.Open + r.High + r.Low + r.Close) / 4
		if !approx(out[i].Close, wantClose) {
			t.Errorf("bar %d close: got %.8f, want %.8f", i, out[i].Close, wantClose)
		}
		if out[i].High < math.Max(out[i].Open, out[i].Close) || out[i].High < r.High {
			t.Errorf("bar %d high %.8f does not envelope", i, out[i].High)
		}
		if out[i].Low > math.Min(out[i].Open, out[i].Close) || out[i].Low > r.Low {
			t.Errorf("bar %d low %.8f does not envelope", i, out[i].Low)
		}
	}
}

// A series smoothed across two Refresh calls must equal the same series
// smoothed in one pass. The retained seed is what makes this hold.
func TestRefresh_SeedContinuity(t *testing.T) {
	raw := []model.Candle{
		bar(0, 0.280, 0.284, 0.278, 0.282),
		bar(1, 0.282, 0.286, 0.281, 0.285),
		bar(2, 0.285, 0.287, 0.283, 0.284),
		bar(3, 0.284, 0.288, 0.282, 0.287),
	}
	wantAll, _ := Smooth(raw, Seed{})

	client := exchange.NewPaperClient()
	client.PushCandles("30m", raw[:3]...)
	agg := New(client, "30m", 3)

	first, err := agg.Refresh(context.Background())
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("first refresh: expected 3 bars, got %d", len(first))
	}

	client.PushCandles("30m", raw[3])
	second, err := agg.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("second refresh: expected 1 fresh bar, got %d", len(second))
	}
	if !approx(second[0].Open, wantAll[3].Open) || !approx(second[0].Close, wantAll[3].Close) {
		t.Errorf("incremental bar diverged: got open=%.8f close=%.8f, want open=%.8f close=%.8f",
			second[0].Open, second[0].Close, wantAll[3].Open, wantAll[3].Close)
	}
}

func TestRefresh_NoFreshBars(t *testing.T) {
	client := exchange.NewPaperClient()
	client.PushCandles("30m",
		bar(0, 0.280, 0.284, 0.278, 0.282),
		bar(1, 0.282, 0.286, 0.281, 0.285),
	)
	agg := New(client, "30m", 2)
	if _, err := agg.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	out, err := agg.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no bars without new data, got %d", len(out))
	}
}

func TestRefresh_ShortFetchIsDataUnavailable(t *testing.T) {
	client := exchange.NewPaperClient()
	client.PushCandles("30m", bar(0, 0.280, 0.284, 0.278, 0.282))
	agg := New(client, "30m", 5)
	_, err := agg.Refresh(context.Background())
	if !errors.Is(err, model.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestRefresh_MalformedBarIsDataUnavailable(t *testing.T) {
	client := exchange.NewPaperClient()
	client.PushCandles("30m",
		bar(0, 0.280, 0.284, 0.278, 0.282),
		bar(1, 0.282, 0.270, 0.286, 0.285), // high below low
	)
	agg := New(client, "30m", 2)
	_, err := agg.Refresh(context.Background())
	if !errors.Is(err, model.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestRestoreSeed_ResumesSeries(t *testing.T) {
	raw := []model.Candle{
		bar(0, 0.280, 0.284, 0.278, 0.282),
		bar(1, 0.282, 0.286, 0.281, 0.285),
		bar(2, 0.285, 0.287, 0.283, 0.284),
	}
	wantAll, _ := Smooth(raw, Seed{})

	client := exchange.NewPaperClient()
	client.PushCandles("30m", raw...)
	agg := New(client, "30m", 3)
	if _, err := agg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	seed, last := agg.SeedState()

	// A fresh instance restored from the snapshot continues the same series.
	resumed := New(client, "30m", 3)
	resumed.RestoreSeed(seed, last)
	client.PushCandles("30m", bar(3, 0.284, 0.288, 0.282, 0.287))
	out, err := resumed.Refresh(context.Background())
	if err != nil {
		t.Fatalf("resumed refresh: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 fresh bar, got %d", len(out))
	}
	wantOpen := (wantAll[2].Open + wantAll[2].Close) / 2
	if !approx(out[0].Open, wantOpen) {
		t.Errorf("resumed open: got %.8f, want %.8f", out[0].Open, wantOpen)
	}
}
