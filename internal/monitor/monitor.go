package monitor

import (
	"context"
	"log"
	"time"

	"TradePilot/internal/exchange"
	"TradePilot/internal/model"
)

// Outcome says how a monitor run ended.
type Outcome int

const (
	// Triggered: price crossed the level in the confirmed direction.
	Triggered Outcome = iota
	// Expired: the validity window passed without a cross.
	Expired
	// Cancelled: the context was cancelled (replacement or shutdown).
	Cancelled
)

// Trigger is handed to the bracket manager when a level fires.
type Trigger struct {
	Side       model.Side
	EntryPrice float64 // ticker reading at trigger time
	StopPrice  float64
	Level      model.ConfirmedLevel
}

// Monitor polls the current price until an armed level triggers, expires, or
// is cancelled. Read errors are logged and retried on the next poll tick; they
// never abort the monitor, but expiry is still honored.
type Monitor struct {
	client       exchange.Client
	level        model.ConfirmedLevel
	pollInterval time.Duration
	callTimeout  time.Duration
	now          func() time.Time
}

// New creates a monitor for one armed level. callTimeout bounds each ticker
// read and must be shorter than pollInterval so a hung call cannot stall the
// side.
func New(client exchange.Client, level model.ConfirmedLevel, pollInterval, callTimeout time.Duration) *Monitor {
	if callTimeout >= pollInterval {
		callTimeout = pollInterval
	}
	return &Monitor{
		client:       client,
		level:        level,
		pollInterval: pollInterval,
		callTimeout:  callTimeout,
		now:          time.Now,
	}
}

// Run blocks until the level resolves. It can be called again after a
// Triggered outcome whose entry was skipped, keeping the level armed until its
// window closes.
func (m *Monitor) Run(ctx context.Context) (Outcome, *Trigger) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		if m.level.Expired(m.now()) {
			return Expired, nil
		}
		price, err := m.readTicker(ctx)
		switch {
		case ctx.Err() != nil:
			return Cancelled, nil
		case err != nil:
			log.Printf("[WARN] %s monitor: ticker read: %v", m.level.Side, err)
		case m.crossed(price):
			return Triggered, &Trigger{
				Side:       m.level.Side,
				EntryPrice: price,
				StopPrice:  m.level.StopPrice,
				Level:      m.level,
			}
		}
		select {
		case <-ctx.Done():
			return Cancelled, nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) readTicker(ctx context.Context) (float64, error) {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	return m.client.GetTicker(cctx)
}

func (m *Monitor) crossed(price float64) bool {
	if m.level.Side == model.SideBuy {
		return price > m.level.LevelPrice
	}
	return price < m.level.LevelPrice
}
