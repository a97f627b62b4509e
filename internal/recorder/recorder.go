package recorder

// TradeEvent records an opened or closed bracket.
type TradeEvent struct {
	EventType  string // "OPEN" or "CLOSE"
	Side       string
	Account    string
	EntryPrice float64
	Quantity   float64
	TakeProfit float64
	StopLoss   float64
	Status     string
	OrderID    string
}

// RebalanceRecord records one completed internal transfer.
type RebalanceRecord struct {
	Reason      string // "SKEW" or "SURPLUS_SPLIT"
	FromAccount string
	ToAccount   string
	Amount      float64
	TransferID  string
}

// SkipEvent records an entry that was skipped or degraded, with enough
// context to reconstruct the decision.
type SkipEvent struct {
	EventType  string // "SIZING_SKIP", "ENTRY_REJECTED", "DEGRADED_PROTECTION"
	Side       string
	LevelPrice float64
	StopPrice  float64
	Detail     string
}

// Recorder persists the engine's decision history for analysis.
type Recorder interface {
	RecordTrade(evt *TradeEvent) error
	RecordRebalance(evt *RebalanceRecord) error
	RecordSkip(evt *SkipEvent) error
	Close() error
}
