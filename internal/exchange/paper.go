package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"TradePilot/internal/model"
)

// PaperClient simulates the exchange in memory. It backs dry-run mode and the
// test suite: market orders fill immediately at the current price, resting
// limit/stop orders fill when SetPrice crosses them.
type PaperClient struct {
	mu        sync.Mutex
	price     float64
	candles   map[string][]model.Candle
	equity    map[string]decimal.Decimal
	positions map[string]*Position
	open      map[string][]*PaperOrder
	transfers []TransferRecord
	placed    []PaperOrder

	tickerErr   error
	transferErr error
	rejectOrder func(OrderRequest) bool
}

// PaperOrder is one order the paper client has accepted.
type PaperOrder struct {
	ID  string
	Req OrderRequest
}

// TransferRecord is one completed paper transfer.
type TransferRecord struct {
	TransferID string
	From       string
	To         string
	Amount     decimal.Decimal
	At         time.Time
}

func NewPaperClient() *PaperClient {
	return &PaperClient{
		candles:   make(map[string][]model.Candle),
		equity:    make(map[string]decimal.Decimal),
		positions: make(map[string]*Position),
		open:      make(map[string][]*PaperOrder),
	}
}

func (p *PaperClient) Name() string { return "paper" }

func (p *PaperClient) GetCandles(_ context.Context, timeframe string, limit int) ([]model.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	series := p.candles[timeframe]
	if len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]model.Candle, len(series))
	copy(out, series)
	return out, nil
}

func (p *PaperClient) GetTicker(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tickerErr != nil {
		return 0, p.tickerErr
	}
	if p.price <= 0 {
		return 0, fmt.Errorf("%w: no price seen yet", model.ErrDataUnavailable)
	}
	return p.price, nil
}

func (p *PaperClient) GetEquity(_ context.Context, account string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equity[account], nil
}

func (p *PaperClient) GetPosition(_ context.Context, account string) (Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos := p.positions[account]; pos != nil {
		return *pos, nil
	}
	return Position{}, nil
}

func (p *PaperClient) PlaceOrder(_ context.Context, req OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectOrder != nil && p.rejectOrder(req) {
		return "", fmt.Errorf("%w: paper reject", model.ErrOrderRejected)
	}
	if req.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", model.ErrOrderRejected)
	}
	ord := &PaperOrder{ID: uuid.New().String(), Req: req}
	p.placed = append(p.placed, *ord)
	if req.Type == OrderMarket {
		p.fillLocked(req)
		return ord.ID, nil
	}
	p.open[req.Account] = append(p.open[req.Account], ord)
	p.matchLocked()
	return ord.ID, nil
}

func (p *PaperClient) CancelAllOrders(_ context.Context, account string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open[account] = nil
	return nil
}

func (p *PaperClient) TransferFunds(_ context.Context, transferID, from, to string, amount decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transferErr != nil {
		return p.transferErr
	}
	if p.equity[from].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", model.ErrTransferFailed, from, p.equity[from], amount)
	}
	p.equity[from] = p.equity[from].Sub(amount)
	p.equity[to] = p.equity[to].Add(amount)
	p.transfers = append(p.transfers, TransferRecord{
		TransferID: transferID, From: from, To: to, Amount: amount, At: time.Now(),
	})
	return nil
}

// --- simulation controls (used by dry-run harnesses and tests) ---

// SetPrice moves the simulated market price and fills any resting orders the
// move crosses.
func (p *PaperClient) SetPrice(price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price = price
	p.matchLocked()
}

// PushCandles appends bars to the stored series for a timeframe.
func (p *PaperClient) PushCandles(timeframe string, bars ...model.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[timeframe] = append(p.candles[timeframe], bars...)
}

// SetEquity sets an account's equity directly.
func (p *PaperClient) SetEquity(account string, equity decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.equity[account] = equity
}

// Transfers returns all completed transfers, oldest first.
func (p *PaperClient) Transfers() []TransferRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TransferRecord, len(p.transfers))
	copy(out, p.transfers)
	return out
}

// PlacedOrders returns every order the client accepted, in placement order.
func (p *PaperClient) PlacedOrders() []PaperOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaperOrder, len(p.placed))
	copy(out, p.placed)
	return out
}

// OpenOrders returns the resting orders for an account.
func (p *PaperClient) OpenOrders(account string) []PaperOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PaperOrder
	for _, o := range p.open[account] {
		out = append(out, *o)
	}
	return out
}

// SetTickerError injects a ticker read failure (nil clears it).
func (p *PaperClient) SetTickerError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tickerErr = err
}

// SetTransferError injects a transfer failure (nil clears it).
func (p *PaperClient) SetTransferError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transferErr = err
}

// RejectOrdersMatching rejects every order the predicate matches (nil clears).
func (p *PaperClient) RejectOrdersMatching(pred func(OrderRequest) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectOrder = pred
}

// fillLocked applies a fill to the account's position. Callers hold p.mu.
func (p *PaperClient) fillLocked(req OrderRequest) {
	pos := p.positions[req.Account]
	if pos == nil {
		pos = &Position{}
		p.positions[req.Account] = pos
	}
	if req.ReduceOnly {
		if pos.Size > 0 && req.Side == pos.Side.Opposite() {
			pos.Size -= req.Quantity
			if pos.Size <= 0 {
				*pos = Position{}
			}
		}
		return
	}
	if pos.Size == 0 {
		pos.Side = req.Side
	}
	pos.Size += req.Quantity
}

// matchLocked fills resting orders crossed by the current price.
func (p *PaperClient) matchLocked() {
	if p.price <= 0 {
		return
	}
	for account, orders := range p.open {
		var remaining []*PaperOrder
		for _, o := range orders {
			if p.crossesLocked(o.Req) {
				p.fillLocked(o.Req)
			} else {
				remaining = append(remaining, o)
			}
		}
		p.open[account] = remaining
	}
}

func (p *PaperClient) crossesLocked(req OrderRequest) bool {
	switch req.Type {
	case OrderLimit:
		// Buy limits fill at or below the limit, sell limits at or above.
		if req.Side == model.SideBuy {
			return p.price <= req.Price
		}
		return p.price >= req.Price
	case OrderStop:
		// Stops trigger when price moves through them adversely.
		if req.Side == model.SideSell {
			return p.price <= req.TriggerPrice
		}
		return p.price >= req.TriggerPrice
	}
	return false
}
