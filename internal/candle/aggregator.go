package candle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"TradePilot/internal/exchange"
	"TradePilot/internal/model"
)

// Seed carries the previous smoothed bar's open and close across polling
// cycles. Without it the smoothed series would be recomputed from scratch each
// poll and diverge from a continuously tracked series.
type Seed struct {
	Open  float64 `json:"open"`
	Close float64 `json:"close"`
	Valid bool    `json:"valid"`
}

// Smooth converts raw bars to smoothed bars, oldest first. With an invalid
// seed the first smoothed open is the midpoint of the first raw bar's open and
// close; afterwards each open is the midpoint of the previous smoothed bar's
// open and close. Returns the bars and the seed to carry into the next call.
func Smooth(raw []model.Candle, seed Seed) ([]model.SmoothedCandle, Seed) {
	out := make([]model.SmoothedCandle, 0, len(raw))
	for _, r := range raw {
		sc := model.SmoothedCandle{Time: r.Time}
		sc.Close = (r.Open + r.High + r.Low + r.Close) / 4
		if seed.Valid {
			sc.Open = (seed.Open + seed.Close) / 2
		} else {
			sc.Open = (r.Open + r.Close) / 2
		}
		sc.High = math.Max(r.High, math.Max(sc.Open, sc.Close))
		sc.Low = math.Min(r.Low, math.Min(sc.Open, sc.Close))
		seed = Seed{Open: sc.Open, Close: sc.Close, Valid: true}
		out = append(out, sc)
	}
	return out, seed
}

// Aggregator fetches raw bars for one timeframe and maintains the smoothed
// series seed across polls. The fast and slow timeframes use independent
// instances with independent seeds.
type Aggregator struct {
	client    exchange.Client
	timeframe string
	depth     int

	mu       sync.Mutex
	seed     Seed
	lastTime time.Time
}

// New creates an aggregator that requests depth bars of the given timeframe.
func New(client exchange.Client, timeframe string, depth int) *Aggregator {
	return &Aggregator{client: client, timeframe: timeframe, depth: depth}
}

// Refresh fetches the latest raw bars and returns the smoothed bars the caller
// has not seen yet, oldest first. A short or malformed response yields
// ErrDataUnavailable; the caller skips the cycle, never treats it as fatal.
func (a *Aggregator) Refresh(ctx context.Context) ([]model.SmoothedCandle, error) {
	raw, err := a.client.GetCandles(ctx, a.timeframe, a.depth)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s bars: %v", model.ErrDataUnavailable, a.timeframe, err)
	}
	if len(raw) < a.depth {
		return nil, fmt.Errorf("%w: got %d of %d %s bars", model.ErrDataUnavailable, len(raw), a.depth, a.timeframe)
	}
	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %s bars: %v", model.ErrDataUnavailable, a.timeframe, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	fresh := raw
	if !a.lastTime.IsZero() {
		idx := len(raw)
		for i, r := range raw {
			if r.Time.After(a.lastTime) {
				idx = i
				break
			}
		}
		fresh = raw[idx:]
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	smoothed, seed := Smooth(fresh, a.seed)
	a.seed = seed
	a.lastTime = fresh[len(fresh)-1].Time
	return smoothed, nil
}

// SeedState returns the current seed, for snapshotting.
func (a *Aggregator) SeedState() (Seed, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seed, a.lastTime
}

// RestoreSeed reinstates a snapshotted seed so a restart continues the same
// smoothed series.
func (a *Aggregator) RestoreSeed(seed Seed, lastTime time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seed = seed
	a.lastTime = lastTime
}

func validate(raw []model.Candle) error {
	var prev time.Time
	for i, r := range raw {
		if r.Time.IsZero() {
			return fmt.Errorf("bar %d has no timestamp", i)
		}
		if !prev.IsZero() && !r.Time.After(prev) {
			return fmt.Errorf("bar %d out of order", i)
		}
		if r.High < r.Low || r.Open <= 0 || r.Close <= 0 {
			return fmt.Errorf("bar %d malformed", i)
		}
		prev = r.Time
	}
	return nil
}
