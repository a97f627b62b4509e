package rebalance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"TradePilot/internal/exchange"
	"TradePilot/internal/model"
)

var two = decimal.NewFromInt(2)

// Rebalancer equalizes equity across the two trading accounts and splits
// surplus into the reserve account once combined equity doubles its baseline.
// Transfers are fire-and-forget: a failure is logged and retried on the next
// scheduled tick, never fatal to the trading loop.
type Rebalancer struct {
	client      exchange.Client
	buyAccount  string
	sellAccount string
	reserve     string
	tolerance   decimal.Decimal
	surplus     decimal.Decimal // fraction of combined equity moved on a split
	callTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	baseline decimal.Decimal
}

// New creates a rebalancer over the two trading accounts and the reserve.
func New(client exchange.Client, buyAccount, sellAccount, reserve string, tolerance, surplusFraction decimal.Decimal, callTimeout time.Duration) *Rebalancer {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Rebalancer{
		client:      client,
		buyAccount:  buyAccount,
		sellAccount: sellAccount,
		reserve:     reserve,
		tolerance:   tolerance,
		surplus:     surplusFraction,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Baseline returns the current surplus baseline, for snapshotting.
func (r *Rebalancer) Baseline() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baseline
}

// SetBaseline reinstates a snapshotted baseline.
func (r *Rebalancer) SetBaseline(b decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseline = b
}

// Run performs one rebalance pass: skew correction first, then the surplus
// split. Equity is read fresh here, never carried over from an earlier tick.
// It returns the transfers that actually completed.
func (r *Rebalancer) Run(ctx context.Context) []model.RebalanceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	buyEq, err := r.equity(ctx, r.buyAccount)
	if err != nil {
		log.Printf("[WARN] rebalance: %s equity read: %v", r.buyAccount, err)
		return nil
	}
	sellEq, err := r.equity(ctx, r.sellAccount)
	if err != nil {
		log.Printf("[WARN] rebalance: %s equity read: %v", r.sellAccount, err)
		return nil
	}

	var events []model.RebalanceEvent

	// Skew correction: move half the imbalance from the richer account to the
	// poorer one; inside tolerance nothing moves.
	diff := buyEq.Sub(sellEq).Abs()
	if diff.GreaterThan(r.tolerance) {
		amount := diff.Div(two)
		from, to := r.buyAccount, r.sellAccount
		if sellEq.GreaterThan(buyEq) {
			from, to = r.sellAccount, r.buyAccount
		}
		if evt, err := r.transfer(ctx, from, to, amount, model.ReasonSkew); err != nil {
			log.Printf("[WARN] rebalance: skew transfer %s -> %s %s: %v", from, to, amount, err)
		} else {
			events = append(events, evt)
			if from == r.buyAccount {
				buyEq, sellEq = buyEq.Sub(amount), sellEq.Add(amount)
			} else {
				buyEq, sellEq = buyEq.Add(amount), sellEq.Sub(amount)
			}
		}
	}

	// Surplus split: once combined equity doubles the baseline, skim a fixed
	// fraction into the reserve and re-baseline on what remains. The first run
	// only establishes the baseline.
	combined := buyEq.Add(sellEq)
	if !r.baseline.IsPositive() {
		r.baseline = combined
		return events
	}
	if combined.GreaterThanOrEqual(r.baseline.Mul(two)) {
		total := combined.Mul(r.surplus)
		half := total.Div(two)
		moved := decimal.Zero
		for _, from := range []string{r.buyAccount, r.sellAccount} {
			if evt, err := r.transfer(ctx, from, r.reserve, half, model.ReasonSurplusSplit); err != nil {
				log.Printf("[WARN] rebalance: surplus transfer %s -> %s %s: %v", from, r.reserve, half, err)
			} else {
				events = append(events, evt)
				moved = moved.Add(half)
			}
		}
		if moved.Equal(total) {
			r.baseline = combined.Sub(total)
			log.Printf("[INFO] rebalance: surplus split %s, new baseline %s", total, r.baseline)
		}
		// A partial split leaves the baseline alone so the next tick retries.
	}
	return events
}

func (r *Rebalancer) transfer(ctx context.Context, from, to string, amount decimal.Decimal, reason model.RebalanceReason) (model.RebalanceEvent, error) {
	id := makeTransferID(r.now())
	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	if err := r.client.TransferFunds(cctx, id, from, to, amount); err != nil {
		return model.RebalanceEvent{}, fmt.Errorf("%w: %v", model.ErrTransferFailed, err)
	}
	return model.RebalanceEvent{
		From:       from,
		To:         to,
		Amount:     amount,
		Reason:     reason,
		TransferID: id,
		Time:       r.now(),
	}, nil
}

func (r *Rebalancer) equity(ctx context.Context, account string) (decimal.Decimal, error) {
	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return r.client.GetEquity(cctx, account)
}

// makeTransferID builds a unique client transfer id, e.g. tr_1694179200123_a3f4b2c1.
func makeTransferID(now time.Time) string {
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("tr_%d_%s", now.UnixMilli(), short)
}
