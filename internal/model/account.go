package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountSnapshot is a point-in-time equity reading in the quote currency.
// Snapshots are taken fresh at each decision point and never cached across
// ticks.
type AccountSnapshot struct {
	Account string
	Equity  decimal.Decimal
	TakenAt time.Time
}

// RebalanceReason says what triggered a transfer.
type RebalanceReason string

const (
	ReasonSkew         RebalanceReason = "SKEW"
	ReasonSurplusSplit RebalanceReason = "SURPLUS_SPLIT"
)

// RebalanceEvent records one completed internal transfer.
type RebalanceEvent struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     RebalanceReason `json:"reason"`
	TransferID string          `json:"transfer_id"`
	Time       time.Time       `json:"time"`
}
