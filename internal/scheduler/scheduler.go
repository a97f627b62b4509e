package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"TradePilot/internal/bracket"
	"TradePilot/internal/candle"
	"TradePilot/internal/config"
	"TradePilot/internal/exchange"
	"TradePilot/internal/metrics"
	"TradePilot/internal/model"
	"TradePilot/internal/monitor"
	"TradePilot/internal/notifier"
	"TradePilot/internal/rebalance"
	"TradePilot/internal/recorder"
	"TradePilot/internal/risk"
	"TradePilot/internal/sequence"
	"TradePilot/internal/state"
)

// Scheduler owns the concurrency model: one long-running task per side
// (confirmation + entry monitoring + bracket execution), a cron task for the
// slow-candle refresh and one for rebalancing. Within a side, confirmation,
// arming, triggering, execution and closure are strictly sequential; across
// sides nothing is ordered.
type Scheduler struct {
	Cron     *cron.Cron
	Client   exchange.Client
	Cfg      *config.Config
	Notifier notifier.Notifier
	Recorder recorder.Recorder
	Store    *state.Store

	rebal   *rebalance.Rebalancer
	slowAgg *candle.Aggregator
	fastAgg *candle.Aggregator
	params  risk.Params

	fastMu   sync.Mutex
	lastFast *model.SmoothedCandle

	ctx   context.Context
	wg    sync.WaitGroup
	sides map[model.Side]*sideLoop
}

// sideLoop is one side's task state: its confirmation engine, its bracket
// manager, its trade gate and the monitor registry slot.
type sideLoop struct {
	side    model.Side
	account string
	engine  *sequence.Engine
	manager *bracket.Manager
	gate    *TradeGate
	candles chan model.SmoothedCandle

	monMu     sync.Mutex
	monCancel context.CancelFunc
}

// NewScheduler wires the engine together.
func NewScheduler(ctx context.Context, cfg *config.Config, client exchange.Client, n notifier.Notifier, rec recorder.Recorder, store *state.Store) *Scheduler {
	s := &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Client:   client,
		Cfg:      cfg,
		Notifier: n,
		Recorder: rec,
		Store:    store,
		ctx:      ctx,
		sides:    make(map[model.Side]*sideLoop),
	}
	s.params = risk.Params{
		RiskFraction:       cfg.Risk.RiskFraction,
		LeverageCap:        cfg.Risk.LeverageCap,
		MarginSafetyFactor: cfg.Risk.MarginSafetyFactor,
		RewardMultiple:     cfg.Risk.RewardMultiple,
		TPBufferFraction:   cfg.Risk.TPBufferFraction,
		TickSize:           cfg.Risk.TickSize,
		MinQty:             cfg.Risk.MinQty,
		MinNotional:        cfg.Risk.MinNotional,
	}
	s.slowAgg = candle.New(client, cfg.Candles.SlowTimeframe, cfg.Candles.Depth)
	s.fastAgg = candle.New(client, cfg.Candles.FastTimeframe, cfg.Candles.Depth)
	s.rebal = rebalance.New(
		client,
		cfg.Accounts.Buy, cfg.Accounts.Sell, cfg.Accounts.Reserve,
		decimal.NewFromFloat(cfg.Rebalance.Tolerance),
		decimal.NewFromFloat(cfg.Rebalance.SurplusFraction),
		10*time.Second,
	)

	accounts := map[model.Side]string{
		model.SideBuy:  cfg.Accounts.Buy,
		model.SideSell: cfg.Accounts.Sell,
	}
	for _, side := range []model.Side{model.SideBuy, model.SideSell} {
		gate := &TradeGate{}
		loop := &sideLoop{
			side:    side,
			account: accounts[side],
			gate:    gate,
			engine:  sequence.New(side, cfg.LevelTTL(), gate.Held),
			candles: make(chan model.SmoothedCandle, 64),
		}
		loop.manager = bracket.NewManager(client, side, loop.account, bracket.Options{
			PositionPoll: time.Duration(cfg.Bracket.PositionPollSeconds) * time.Second,
			CallTimeout:  cfg.CallTimeout(),
			ExitRetries:  cfg.Bracket.ExitRetries,
			RetryBackoff: time.Duration(cfg.Bracket.RetryBackoffSeconds) * time.Second,
			EntryWait:    time.Duration(cfg.Bracket.EntryWaitSeconds) * time.Second,
		})
		s.sides[side] = loop
	}
	return s
}

// Start restores persisted state, registers the cron tasks and launches the
// per-side loops.
func (s *Scheduler) Start() error {
	s.restore()

	if _, err := s.Cron.AddFunc(s.Cfg.Candles.RefreshCron, s.refreshTask); err != nil {
		return fmt.Errorf("register candle refresh: %w", err)
	}
	if _, err := s.Cron.AddFunc(s.Cfg.Rebalance.Cron, s.runRebalance); err != nil {
		return fmt.Errorf("register rebalance: %w", err)
	}
	s.Cron.Start()

	for _, loop := range s.sides {
		s.wg.Add(1)
		go s.runSide(loop)
	}
	log.Println("[INFO] scheduler started")
	return nil
}

// Stop stops the cron tasks and waits for the side loops to drain. The caller
// cancels the context first.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	s.wg.Wait()
	log.Println("[INFO] scheduler stopped")
}

// RunNow kicks an immediate candle refresh (manual trigger / RUN_ON_START).
func (s *Scheduler) RunNow() {
	s.refreshTask()
}

// restore reloads the snapshot: the smoothed-series seed, per-side machines,
// the rebalance baseline, and any trade that was live when the process died.
func (s *Scheduler) restore() {
	snap := s.Store.Get()
	s.slowAgg.RestoreSeed(snap.SlowSeed, snap.SlowLastTime)
	s.fastAgg.RestoreSeed(snap.FastSeed, snap.FastLastTime)
	s.rebal.SetBaseline(snap.RebalanceBaseline)
	for _, loop := range s.sides {
		ss := snap.Side(loop.side)
		loop.engine.Restore(ss.Machine)
		if t := ss.ActiveTrade; t != nil && t.Status != model.TradeClosed {
			if loop.gate.TryAcquire() {
				log.Printf("[INFO] %s: resuming %s trade from snapshot (entry %.6f, qty %.2f)",
					loop.side, t.Status, t.EntryPrice, t.Quantity)
				trade := *t
				s.wg.Add(1)
				go s.watchTrade(loop, &trade)
			}
			continue
		}
		if armed := loop.engine.Armed(); armed != nil {
			log.Printf("[INFO] %s: re-arming level %.6f from snapshot", loop.side, armed.LevelPrice)
			s.startMonitor(loop, *armed)
		}
	}
}

// refreshTask pulls the slow timeframe once and feeds both sides. Data errors
// skip the cycle, they are never fatal.
func (s *Scheduler) refreshTask() {
	bars, err := s.slowAgg.Refresh(s.ctx)
	if err != nil {
		log.Printf("[WARN] candle refresh skipped: %v", err)
		return
	}
	if len(bars) == 0 {
		return
	}
	for _, loop := range s.sides {
		for _, b := range bars {
			select {
			case loop.candles <- b:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// runSide consumes smoothed candles for one side and arms confirmed levels.
func (s *Scheduler) runSide(loop *sideLoop) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case c := <-loop.candles:
			lvl := loop.engine.Update(c)
			s.persistSide(loop)
			if lvl != nil {
				metrics.ArmedLevels.WithLabelValues(string(loop.side)).Inc()
				log.Printf("[INFO] %s: level armed at %.6f (stop %.6f, expires %s)",
					loop.side, lvl.LevelPrice, lvl.StopPrice, lvl.ExpiresAt.Format(time.RFC3339))
				s.startMonitor(loop, *lvl)
			}
		}
	}
}

// startMonitor registers a monitor task for the side, replacing a still
// running one so the side never runs duplicate monitors.
func (s *Scheduler) startMonitor(loop *sideLoop, lvl model.ConfirmedLevel) {
	loop.monMu.Lock()
	if loop.monCancel != nil {
		loop.monCancel()
	}
	mctx, cancel := context.WithCancel(s.ctx)
	loop.monCancel = cancel
	loop.monMu.Unlock()

	s.wg.Add(1)
	go s.runMonitor(loop, lvl, mctx, cancel)
}

func (s *Scheduler) runMonitor(loop *sideLoop, lvl model.ConfirmedLevel, mctx context.Context, cancel context.CancelFunc) {
	defer s.wg.Done()
	defer cancel()

	mon := monitor.New(s.Client, lvl, s.Cfg.PollInterval(), s.Cfg.CallTimeout())
	skipNotified := false
	for {
		outcome, trig := mon.Run(mctx)
		switch outcome {
		case monitor.Cancelled:
			return
		case monitor.Expired:
			loop.engine.Expire()
			s.persistSide(loop)
			return
		}
		opened, keepArmed := s.executeTrade(loop, trig, &skipNotified)
		if opened || !keepArmed {
			loop.engine.Consume()
			s.persistSide(loop)
			return
		}
		// Sizing skipped or entry deferred: the level stays armed until its
		// validity window closes. Wait out one poll tick before re-running
		// the monitor, otherwise a persistently crossed level would retry in
		// a tight loop.
		select {
		case <-mctx.Done():
			return
		case <-time.After(s.Cfg.PollInterval()):
		}
	}
}

// executeTrade runs the trigger-to-bracket sequence under the side's gate.
// keepArmed reports whether the level should stay armed for another attempt.
func (s *Scheduler) executeTrade(loop *sideLoop, trig *monitor.Trigger, skipNotified *bool) (opened, keepArmed bool) {
	if !loop.gate.TryAcquire() {
		log.Printf("[WARN] %s: trigger while gate held, discarding", loop.side)
		return false, false
	}
	defer func() {
		if !opened {
			loop.gate.Release()
		}
	}()

	if s.fastOpposes(loop.side) {
		log.Printf("[INFO] %s: entry deferred, fast timeframe moving against it", loop.side)
		return false, true
	}

	in, err := s.sizingInputs(loop, trig)
	if err != nil {
		log.Printf("[WARN] %s: equity read before sizing: %v", loop.side, err)
		return false, true
	}

	qty, err := risk.Quantity(in, s.params)
	if err != nil {
		se, _ := model.AsSizingError(err)
		reason := "UNKNOWN"
		if se != nil {
			reason = string(se.Reason)
		}
		metrics.SizingSkips.WithLabelValues(string(loop.side), reason).Inc()
		log.Printf("[INFO] %s: entry skipped: %v", loop.side, err)
		if !*skipNotified {
			s.trySend(notifier.FormatSizingSkipped(trig.Level, in, err))
			*skipNotified = true
		}
		s.recordSkip("SIZING_SKIP", loop.side, trig.Level, err.Error())
		return false, true
	}

	br := risk.BracketPrices(loop.side, trig.EntryPrice, trig.StopPrice, s.params)
	trade, err := loop.manager.Open(s.ctx, qty, trig.EntryPrice, br)
	var dp *bracket.DegradedProtection
	switch {
	case errors.As(err, &dp):
		// The position is live without a full bracket; raise it loudly and
		// keep watching the trade.
		metrics.DegradedProtection.Inc()
		log.Printf("[ERROR] %s: %v", loop.side, dp)
		s.trySend(notifier.FormatDegradedProtection(loop.side, dp.Error()))
		s.recordSkip("DEGRADED_PROTECTION", loop.side, trig.Level, dp.Error())
	case err != nil:
		// Entry rejection aborts the attempt and unlocks the side.
		log.Printf("[ERROR] %s: entry aborted: %v", loop.side, err)
		s.trySend(notifier.FormatEntryAborted(loop.side, err))
		s.recordSkip("ENTRY_REJECTED", loop.side, trig.Level, err.Error())
		return false, false
	}

	opened = true
	s.persistTrade(loop, trade)
	s.trySend(notifier.FormatTradeOpened(trade))
	s.recordTrade("OPEN", trade)
	metrics.Trades.WithLabelValues(string(loop.side), "open").Inc()

	s.wg.Add(1)
	go s.watchTrade(loop, trade)
	return true, false
}

// watchTrade follows one live trade to closure, then releases the gate and
// triggers a rebalance check.
func (s *Scheduler) watchTrade(loop *sideLoop, trade *model.ActiveTrade) {
	defer s.wg.Done()

	err := loop.manager.Watch(s.ctx, trade)
	if s.ctx.Err() != nil {
		// Shutdown: the snapshot keeps the trade, the gate dies with us.
		return
	}
	if err != nil {
		log.Printf("[ERROR] %s: trade abandoned: %v", loop.side, err)
		s.trySend(notifier.FormatEntryAborted(loop.side, err))
		s.recordSkip("ENTRY_REJECTED", loop.side, model.ConfirmedLevel{Side: loop.side, LevelPrice: trade.EntryPrice, StopPrice: trade.StopLoss}, err.Error())
		s.persistTrade(loop, nil)
		loop.gate.Release()
		return
	}

	s.persistTrade(loop, nil)
	s.trySend(notifier.FormatTradeClosed(trade))
	s.recordTrade("CLOSE", trade)
	metrics.Trades.WithLabelValues(string(loop.side), "close").Inc()
	loop.gate.Release()

	// Closure skews the two accounts; check right away instead of waiting
	// for the next cron tick.
	s.runRebalance()
}

// runRebalance performs one rebalance pass and reports what moved.
func (s *Scheduler) runRebalance() {
	events := s.rebal.Run(s.ctx)
	for _, evt := range events {
		metrics.Rebalances.WithLabelValues(string(evt.Reason)).Inc()
		s.trySend(notifier.FormatRebalance(evt))
		if err := s.Recorder.RecordRebalance(&recorder.RebalanceRecord{
			Reason:      string(evt.Reason),
			FromAccount: evt.From,
			ToAccount:   evt.To,
			Amount:      evt.Amount.InexactFloat64(),
			TransferID:  evt.TransferID,
		}); err != nil {
			log.Printf("[ERROR] record rebalance: %v", err)
		}
	}
	if err := s.Store.Update(func(sn *state.Snapshot) {
		sn.RebalanceBaseline = s.rebal.Baseline()
	}); err != nil {
		log.Printf("[ERROR] persist rebalance baseline: %v", err)
	}
	s.updateEquityGauges()
}

// fastOpposes reports whether the latest fast-timeframe smoothed bar moves
// strictly against the side. The fast series keeps its own seed, independent
// of the slow one, and is refreshed lazily at trigger time. Unavailable fast
// data never blocks an entry.
func (s *Scheduler) fastOpposes(side model.Side) bool {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	bars, err := s.fastAgg.Refresh(ctx)
	if err != nil {
		log.Printf("[WARN] fast candle refresh: %v", err)
	}

	s.fastMu.Lock()
	defer s.fastMu.Unlock()
	if len(bars) > 0 {
		last := bars[len(bars)-1]
		s.lastFast = &last
		if err := s.Store.Update(func(sn *state.Snapshot) {
			sn.FastSeed, sn.FastLastTime = s.fastAgg.SeedState()
		}); err != nil {
			log.Printf("[ERROR] persist fast seed: %v", err)
		}
	}
	if s.lastFast == nil {
		return false
	}
	if side == model.SideBuy {
		return s.lastFast.Bearish()
	}
	return s.lastFast.Bullish()
}

// sizingInputs reads both accounts' equity fresh; nothing is cached across
// decision points.
func (s *Scheduler) sizingInputs(loop *sideLoop, trig *monitor.Trigger) (risk.Inputs, error) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	buyEq, err := s.Client.GetEquity(ctx, s.Cfg.Accounts.Buy)
	if err != nil {
		return risk.Inputs{}, fmt.Errorf("%s equity: %w", s.Cfg.Accounts.Buy, err)
	}
	sellEq, err := s.Client.GetEquity(ctx, s.Cfg.Accounts.Sell)
	if err != nil {
		return risk.Inputs{}, fmt.Errorf("%s equity: %w", s.Cfg.Accounts.Sell, err)
	}
	metrics.AccountEquity.WithLabelValues(s.Cfg.Accounts.Buy).Set(buyEq.InexactFloat64())
	metrics.AccountEquity.WithLabelValues(s.Cfg.Accounts.Sell).Set(sellEq.InexactFloat64())

	side := buyEq
	if loop.side == model.SideSell {
		side = sellEq
	}
	return risk.Inputs{
		AccountEquity:  side.InexactFloat64(),
		CombinedEquity: buyEq.Add(sellEq).InexactFloat64(),
		EntryPrice:     trig.EntryPrice,
		StopPrice:      trig.StopPrice,
	}, nil
}

func (s *Scheduler) updateEquityGauges() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	for _, acct := range []string{s.Cfg.Accounts.Buy, s.Cfg.Accounts.Sell, s.Cfg.Accounts.Reserve} {
		if eq, err := s.Client.GetEquity(ctx, acct); err == nil {
			metrics.AccountEquity.WithLabelValues(acct).Set(eq.InexactFloat64())
		}
	}
}

// HandleCommand processes an operator command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	switch command {
	case "/status":
		return s.formatStatus()
	case "/rebalance":
		s.runRebalance()
		return "rebalance check done"
	case "/close buy":
		return s.requestClose(model.SideBuy)
	case "/close sell":
		return s.requestClose(model.SideSell)
	default:
		return "commands:\n• /status\n• /rebalance\n• /close buy\n• /close sell"
	}
}

// requestClose handles an external close request for a side's live trade.
func (s *Scheduler) requestClose(side model.Side) string {
	loop := s.sides[side]
	if !loop.gate.Held() {
		return fmt.Sprintf("no active %s trade", side)
	}
	snap := s.Store.Get()
	t := snap.Side(side).ActiveTrade
	if t == nil {
		return fmt.Sprintf("no active %s trade", side)
	}
	trade := *t
	if err := loop.manager.Close(s.ctx, &trade); err != nil {
		return fmt.Sprintf("close %s failed: %v", side, err)
	}
	return fmt.Sprintf("closing %s trade", side)
}

func (s *Scheduler) formatStatus() string {
	var b strings.Builder
	b.WriteString("📋 <b>engine status</b>\n\n")
	for _, side := range []model.Side{model.SideBuy, model.SideSell} {
		loop := s.sides[side]
		b.WriteString(fmt.Sprintf("%s: %s", side, loop.engine.State()))
		if armed := loop.engine.Armed(); armed != nil {
			b.WriteString(fmt.Sprintf(" (level %.6f)", armed.LevelPrice))
		}
		if loop.gate.Held() {
			b.WriteString(" [trade active]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (s *Scheduler) persistSide(loop *sideLoop) {
	if err := s.Store.Update(func(sn *state.Snapshot) {
		sn.Side(loop.side).Machine = loop.engine.Snapshot()
		seed, last := s.slowAgg.SeedState()
		sn.SlowSeed, sn.SlowLastTime = seed, last
	}); err != nil {
		log.Printf("[ERROR] persist %s state: %v", loop.side, err)
	}
}

func (s *Scheduler) persistTrade(loop *sideLoop, trade *model.ActiveTrade) {
	if err := s.Store.Update(func(sn *state.Snapshot) {
		if trade == nil {
			sn.Side(loop.side).ActiveTrade = nil
			return
		}
		t := *trade
		sn.Side(loop.side).ActiveTrade = &t
	}); err != nil {
		log.Printf("[ERROR] persist %s trade: %v", loop.side, err)
	}
}

func (s *Scheduler) recordTrade(event string, trade *model.ActiveTrade) {
	if err := s.Recorder.RecordTrade(&recorder.TradeEvent{
		EventType:  event,
		Side:       string(trade.Side),
		Account:    trade.Account,
		EntryPrice: trade.EntryPrice,
		Quantity:   trade.Quantity,
		TakeProfit: trade.TakeProfit,
		StopLoss:   trade.StopLoss,
		Status:     string(trade.Status),
		OrderID:    trade.EntryOrderID,
	}); err != nil {
		log.Printf("[ERROR] record trade: %v", err)
	}
}

func (s *Scheduler) recordSkip(event string, side model.Side, lvl model.ConfirmedLevel, detail string) {
	if err := s.Recorder.RecordSkip(&recorder.SkipEvent{
		EventType:  event,
		Side:       string(side),
		LevelPrice: lvl.LevelPrice,
		StopPrice:  lvl.StopPrice,
		Detail:     detail,
	}); err != nil {
		log.Printf("[ERROR] record skip: %v", err)
	}
}

func (s *Scheduler) trySend(text string) {
	if err := s.Notifier.SendWithRetry(s.ctx, text, 3); err != nil {
		log.Printf("[ERROR] send notification: %v", err)
	}
}
