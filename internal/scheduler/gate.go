package scheduler

import (
	"sync"
	"sync/atomic"
)

// TradeGate enforces the one-active-trade-per-side invariant. It is acquired
// at entry trigger and released at trade closure; while held, the side's
// confirmation engine discards new levels.
type TradeGate struct {
	mu   sync.Mutex
	held atomic.Bool
}

// TryAcquire takes the gate if it is free. It never blocks.
func (g *TradeGate) TryAcquire() bool {
	if !g.mu.TryLock() {
		return false
	}
	g.held.Store(true)
	return true
}

// Release frees the gate. It must only be called by the holder.
func (g *TradeGate) Release() {
	g.held.Store(false)
	g.mu.Unlock()
}

// Held reports whether a trade currently owns the gate.
func (g *TradeGate) Held() bool {
	return g.held.Load()
}
