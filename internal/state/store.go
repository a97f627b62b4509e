package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"TradePilot/internal/candle"
	"TradePilot/internal/model"
	"TradePilot/internal/sequence"
)

// SideState is the restart-recoverable state of one trading side.
type SideState struct {
	Machine     sequence.Snapshot  `json:"machine"`
	ActiveTrade *model.ActiveTrade `json:"active_trade,omitempty"`
}

// Snapshot is everything the engine needs to resume after a restart without
// double-entering a position or diverging the smoothed series.
type Snapshot struct {
	Buy               SideState       `json:"buy"`
	Sell              SideState       `json:"sell"`
	SlowSeed          candle.Seed     `json:"slow_seed"`
	SlowLastTime      time.Time       `json:"slow_last_time"`
	FastSeed          candle.Seed     `json:"fast_seed"`
	FastLastTime      time.Time       `json:"fast_last_time"`
	RebalanceBaseline decimal.Decimal `json:"rebalance_baseline"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Side returns the state for one side.
func (s *Snapshot) Side(side model.Side) *SideState {
	if side == model.SideBuy {
		return &s.Buy
	}
	return &s.Sell
}

// Store persists snapshots to a JSON file behind a mutex.
type Store struct {
	mu   sync.Mutex
	path string
	snap Snapshot
}

// Open loads the snapshot from path, or starts from a zero snapshot if the
// file does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(data, &s.snap); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return s, nil
}

// Get returns a copy of the current snapshot.
func (s *Store) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Update mutates the snapshot under the lock and writes it to disk.
func (s *Store) Update(fn func(*Snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	s.snap.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(&s.snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}
