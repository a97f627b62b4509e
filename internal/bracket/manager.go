package bracket

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"TradePilot/internal/exchange"
	"TradePilot/internal/model"
	"TradePilot/internal/risk"
)

// DegradedProtection reports an open position whose protective leg could not
// be placed within the bounded retry window. It is returned alongside the
// trade so the caller can raise it instead of silently swallowing it.
type DegradedProtection struct {
	Side model.Side
	Leg  string // "take_profit" or "stop_loss"
	Err  error
}

func (d *DegradedProtection) Error() string {
	return fmt.Sprintf("%s position has no %s order: %v", d.Side, d.Leg, d.Err)
}

func (d *DegradedProtection) Unwrap() error { return d.Err }

// Manager places and tracks one bracketed trade at a time for one side's
// account: an entry order plus reduce-only take-profit and stop-loss legs
// sized to fully close the position.
type Manager struct {
	client       exchange.Client
	side         model.Side
	account      string
	positionPoll time.Duration
	callTimeout  time.Duration
	exitRetries  int
	retryBackoff time.Duration
	entryWait    time.Duration // bound on a resting entry staying unfilled
	now          func() time.Time
}

// Options tune the manager's polling and retry behavior.
type Options struct {
	PositionPoll time.Duration
	CallTimeout  time.Duration
	ExitRetries  int
	RetryBackoff time.Duration
	EntryWait    time.Duration
}

// NewManager creates the bracket manager for one side.
func NewManager(client exchange.Client, side model.Side, account string, opts Options) *Manager {
	if opts.PositionPoll <= 0 {
		opts.PositionPoll = 5 * time.Second
	}
	if opts.CallTimeout <= 0 || opts.CallTimeout >= opts.PositionPoll {
		opts.CallTimeout = opts.PositionPoll
	}
	if opts.ExitRetries <= 0 {
		opts.ExitRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.EntryWait <= 0 {
		opts.EntryWait = 5 * time.Minute
	}
	return &Manager{
		client:       client,
		side:         side,
		account:      account,
		positionPoll: opts.PositionPoll,
		callTimeout:  opts.CallTimeout,
		exitRetries:  opts.ExitRetries,
		retryBackoff: opts.RetryBackoff,
		entryWait:    opts.EntryWait,
		now:          time.Now,
	}
}

// Open places the bracket: it first clears any pre-existing orders and
// position on the account (so a restarted bracket is idempotent), places the
// entry, then the two reduce-only exit legs.
//
// An entry failure aborts the attempt: no exit orders are placed and no trade
// is returned. An exit-leg failure after a successful entry is retried; if
// retries exhaust, Open returns the trade together with a *DegradedProtection
// error: the position is live and the caller must report the condition.
func (m *Manager) Open(ctx context.Context, qty float64, entryRef float64, br risk.Bracket) (*model.ActiveTrade, error) {
	if err := m.reset(ctx); err != nil {
		return nil, fmt.Errorf("reset account %s: %w", m.account, err)
	}

	price, err := m.ticker(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: ticker before entry: %v", model.ErrDataUnavailable, err)
	}

	// Immediate entry when price is already through the level, resting limit
	// at the level when it has pulled back.
	entry := exchange.OrderRequest{
		Account:  m.account,
		Side:     m.side,
		Quantity: qty,
		ClientID: uuid.New().String(),
	}
	immediate := (m.side == model.SideBuy && price >= entryRef) ||
		(m.side == model.SideSell && price <= entryRef)
	if immediate {
		entry.Type = exchange.OrderMarket
	} else {
		entry.Type = exchange.OrderLimit
		entry.Price = entryRef
	}

	entryID, err := m.placeOrder(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("entry %s %s: %w", m.side, entry.Type, err)
	}

	trade := &model.ActiveTrade{
		Side:         m.side,
		Account:      m.account,
		Quantity:     qty,
		TakeProfit:   br.TakeProfit,
		StopLoss:     br.StopLoss,
		Status:       model.TradePending,
		OpenedAt:     m.now(),
		EntryOrderID: entryID,
	}
	if immediate {
		trade.EntryPrice = price
		trade.Status = model.TradeOpen
	} else {
		trade.EntryPrice = entryRef
	}

	closing := m.side.Opposite()
	tpID, err := m.placeExitWithRetry(ctx, exchange.OrderRequest{
		Account:    m.account,
		Side:       closing,
		Type:       exchange.OrderLimit,
		Quantity:   qty,
		Price:      br.TakeProfit,
		ReduceOnly: true,
		ClientID:   uuid.New().String(),
	})
	if err != nil {
		return trade, &DegradedProtection{Side: m.side, Leg: "take_profit", Err: err}
	}
	trade.TakeProfitID = tpID

	slID, err := m.placeExitWithRetry(ctx, exchange.OrderRequest{
		Account:      m.account,
		Side:         closing,
		Type:         exchange.OrderStop,
		Quantity:     qty,
		Price:        br.StopLoss,
		TriggerPrice: br.StopLoss,
		ReduceOnly:   true,
		ClientID:     uuid.New().String(),
	})
	if err != nil {
		return trade, &DegradedProtection{Side: m.side, Leg: "stop_loss", Err: err}
	}
	trade.StopLossID = slID

	return trade, nil
}

// Watch polls the account position until it returns to zero, then marks the
// trade closed and clears leftover orders. A resting entry that never fills
// within the entry window is cancelled and reported as an error so the side
// unlocks.
func (m *Manager) Watch(ctx context.Context, trade *model.ActiveTrade) error {
	ticker := time.NewTicker(m.positionPoll)
	defer ticker.Stop()
	deadline := trade.OpenedAt.Add(m.entryWait)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		pos, err := m.getPosition(ctx)
		if err != nil {
			log.Printf("[WARN] %s watch: position read: %v", m.side, err)
			continue
		}

		switch {
		case trade.Status == model.TradePending && pos.Size > 0:
			trade.Status = model.TradeOpen
			log.Printf("[INFO] %s entry filled, size %.4f", m.side, pos.Size)
		case trade.Status == model.TradePending && m.now().After(deadline):
			if err := m.cancelAll(ctx); err != nil {
				log.Printf("[WARN] %s watch: cancel stale entry: %v", m.side, err)
			}
			return fmt.Errorf("%w: entry unfilled after %s", model.ErrOrderRejected, m.entryWait)
		case trade.Status != model.TradePending && pos.Size == 0:
			trade.Status = model.TradeClosed
			if err := m.cancelAll(ctx); err != nil {
				log.Printf("[WARN] %s watch: cancel leftover exits: %v", m.side, err)
			}
			return nil
		case trade.Status == model.TradeOpen && pos.Size < trade.Quantity:
			// An exit leg started filling.
			trade.Status = model.TradeClosing
		}
	}
}

// Close handles an external close request: it cancels the resting exits and
// flattens whatever position remains with a market order.
func (m *Manager) Close(ctx context.Context, trade *model.ActiveTrade) error {
	if err := m.cancelAll(ctx); err != nil {
		return fmt.Errorf("cancel exits: %w", err)
	}
	pos, err := m.getPosition(ctx)
	if err != nil {
		return fmt.Errorf("position read: %w", err)
	}
	if pos.Size == 0 {
		trade.Status = model.TradeClosed
		return nil
	}
	trade.Status = model.TradeClosing
	_, err = m.placeOrder(ctx, exchange.OrderRequest{
		Account:    m.account,
		Side:       m.side.Opposite(),
		Type:       exchange.OrderMarket,
		Quantity:   pos.Size,
		ReduceOnly: true,
		ClientID:   uuid.New().String(),
	})
	if err != nil {
		return fmt.Errorf("flatten: %w", err)
	}
	return nil
}

// reset clears pre-existing orders and positions so a fresh bracket starts
// from a flat account.
func (m *Manager) reset(ctx context.Context) error {
	if err := m.cancelAll(ctx); err != nil {
		return fmt.Errorf("cancel orders: %w", err)
	}
	pos, err := m.getPosition(ctx)
	if err != nil {
		return fmt.Errorf("position read: %w", err)
	}
	if pos.Size == 0 {
		return nil
	}
	log.Printf("[WARN] %s: flattening stale %.4f %s position before entry", m.side, pos.Size, pos.Side)
	_, err = m.placeOrder(ctx, exchange.OrderRequest{
		Account:    m.account,
		Side:       pos.Side.Opposite(),
		Type:       exchange.OrderMarket,
		Quantity:   pos.Size,
		ReduceOnly: true,
		ClientID:   uuid.New().String(),
	})
	if err != nil {
		return fmt.Errorf("flatten stale position: %w", err)
	}
	return nil
}

func (m *Manager) placeExitWithRetry(ctx context.Context, req exchange.OrderRequest) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= m.exitRetries; attempt++ {
		id, err := m.placeOrder(ctx, req)
		if err == nil {
			return id, nil
		}
		lastErr = err
		log.Printf("[WARN] %s exit leg attempt %d/%d: %v", m.side, attempt, m.exitRetries, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.retryBackoff):
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", m.exitRetries, lastErr)
}

func (m *Manager) placeOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	return m.client.PlaceOrder(cctx, req)
}

func (m *Manager) getPosition(ctx context.Context) (exchange.Position, error) {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	return m.client.GetPosition(cctx, m.account)
}

func (m *Manager) cancelAll(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	return m.client.CancelAllOrders(cctx, m.account)
}

func (m *Manager) ticker(ctx context.Context) (float64, error) {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	return m.client.GetTicker(cctx)
}
