package sequence

import "TradePilot/internal/model"

// Snapshot is the restart-recoverable portion of one side's machine.
type Snapshot struct {
	State       State                 `json:"state"`
	Run         *model.DirectionalRun `json:"run,omitempty"`
	LastExtreme float64               `json:"last_extreme"`
	HasLast     bool                  `json:"has_last"`
	Armed       *model.ConfirmedLevel `json:"armed,omitempty"`
}

// Snapshot captures the machine state for persistence.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		State:       e.state,
		LastExtreme: e.lastExtreme,
		HasLast:     e.hasLast,
	}
	if e.run != nil {
		r := *e.run
		snap.Run = &r
	}
	if e.armed != nil {
		l := *e.armed
		snap.Armed = &l
	}
	return snap
}

// Restore reinstates a snapshotted machine state. Expired armed levels are
// dropped rather than resumed.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = snap.State
	if e.state == "" {
		e.state = StateIdle
	}
	e.lastExtreme = snap.LastExtreme
	e.hasLast = snap.HasLast
	e.run = nil
	if snap.Run != nil {
		r := *snap.Run
		e.run = &r
	}
	e.armed = nil
	if snap.Armed != nil && !snap.Armed.Expired(e.now()) {
		l := *snap.Armed
		e.armed = &l
	} else if e.state == StateArmed {
		e.state = StateIdle
	}
}
