package sequence

import (
	"log"
	"sync"
	"time"

	"TradePilot/internal/model"
)

// State of a side's confirmation machine.
type State string

const (
	StateIdle         State = "IDLE"
	StateAccumulating State = "ACCUMULATING"
	StateConfirmed    State = "CONFIRMED"
	StateArmed        State = "ARMED"
	StateConsumed     State = "CONSUMED"
)

// Engine is one side's confirmation state machine over the slow-timeframe
// smoothed stream. The buy engine watches bullish runs and confirms on a
// strictly higher low; the sell engine watches bearish runs and confirms on a
// strictly lower high. Equal extremes never confirm.
//
// Runs of the opposite direction are tracked too (a run only completes when
// the direction flips), but only completions of the watched direction can
// confirm a level.
type Engine struct {
	side   model.Side
	ttl    time.Duration
	active func() bool // reports whether the side holds an open trade
	now    func() time.Time

	mu          sync.Mutex
	state       State
	run         *model.DirectionalRun
	lastExtreme float64
	hasLast     bool
	armed       *model.ConfirmedLevel
}

// New creates the engine for one side. ttl is the validity window of emitted
// levels. active gates arming: a side with an open trade discards new levels.
func New(side model.Side, ttl time.Duration, active func() bool) *Engine {
	return &Engine{
		side:   side,
		ttl:    ttl,
		active: active,
		now:    time.Now,
		state:  StateIdle,
	}
}

// watchesBullish reports whether this side confirms off bullish runs.
func (e *Engine) watchesBullish() bool { return e.side == model.SideBuy }

// Update consumes one smoothed candle. It returns a newly armed level, or nil.
// A new confirmation while a level is still armed replaces it.
func (e *Engine) Update(c model.SmoothedCandle) *model.ConfirmedLevel {
	if c.Flat() {
		// Doji: neither extends nor breaks the run.
		return nil
	}
	bullish := c.Bullish()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.armed != nil && e.armed.Expired(e.now()) {
		e.dropArmedLocked()
	}

	if e.run == nil {
		e.run = startRun(bullish, c)
		if e.state == StateIdle {
			e.state = StateAccumulating
		}
		return nil
	}
	if e.run.Bullish == bullish {
		extendRun(e.run, c)
		return nil
	}

	// Direction flipped: the current run just completed.
	completed := *e.run
	e.run = startRun(bullish, c)
	if completed.Bullish != e.watchesBullish() {
		return nil
	}
	return e.completeLocked(completed, c)
}

// completeLocked handles a completed watched-direction run. The just-ended
// run's extreme becomes the new last extreme; confirmation compares it against
// the previous one (two flips back) and requires strict improvement.
func (e *Engine) completeLocked(run model.DirectionalRun, flip model.SmoothedCandle) *model.ConfirmedLevel {
	confirmed := false
	if e.hasLast {
		if e.side == model.SideBuy {
			confirmed = run.Extreme > e.lastExtreme // higher low
		} else {
			confirmed = run.Extreme < e.lastExtreme // lower high
		}
	}
	e.lastExtreme = run.Extreme
	e.hasLast = true
	if !confirmed {
		return nil
	}

	e.state = StateConfirmed
	if e.active != nil && e.active() {
		// The side holds an open trade; the level is discarded, not armed.
		log.Printf("[INFO] %s: level at %.8f discarded, trade active", e.side, flip.Open)
		e.state = StateAccumulating
		return nil
	}

	now := e.now()
	lvl := &model.ConfirmedLevel{
		Side:        e.side,
		LevelPrice:  flip.Open,
		StopPrice:   run.Extreme,
		ConfirmedAt: now,
		ExpiresAt:   now.Add(e.ttl),
	}
	e.armed = lvl
	e.state = StateArmed
	return lvl
}

// Armed returns the currently armed level, nil if none or expired.
func (e *Engine) Armed() *model.ConfirmedLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.armed == nil || e.armed.Expired(e.now()) {
		return nil
	}
	lvl := *e.armed
	return &lvl
}

// Consume marks the armed level as triggered into an entry.
func (e *Engine) Consume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.armed == nil {
		return
	}
	e.armed = nil
	e.state = StateConsumed
}

// Expire drops an armed level whose validity window passed unconsumed.
func (e *Engine) Expire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropArmedLocked()
}

func (e *Engine) dropArmedLocked() {
	if e.armed == nil {
		return
	}
	log.Printf("[INFO] %s: level at %.8f expired unconsumed", e.side, e.armed.LevelPrice)
	e.armed = nil
	e.state = StateIdle
}

// State returns the machine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func startRun(bullish bool, c model.SmoothedCandle) *model.DirectionalRun {
	r := &model.DirectionalRun{Bullish: bullish, StartedAt: c.Time, Candles: 1}
	if bullish {
		r.Extreme = c.Low
	} else {
		r.Extreme = c.High
	}
	return r
}

func extendRun(r *model.DirectionalRun, c model.SmoothedCandle) {
	r.Candles++
	if r.Bullish {
		if c.Low < r.Extreme {
			r.Extreme = c.Low
		}
	} else {
		if c.High > r.Extreme {
			r.Extreme = c.High
		}
	}
}
