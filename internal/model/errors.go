package model

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable marks a short or malformed candle/ticker read.
	// Callers skip the current cycle and retry on the next tick.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrOrderRejected marks an exchange decline of an entry or exit order.
	ErrOrderRejected = errors.New("order rejected")

	// ErrTransferFailed marks a failed internal transfer. Rebalancing retries
	// on its next scheduled tick; trading is never blocked by it.
	ErrTransferFailed = errors.New("transfer failed")
)

// SizingReason classifies why an entry could not be sized.
type SizingReason string

const (
	ZeroStopDistance SizingReason = "ZERO_STOP_DISTANCE"
	BelowMinNotional SizingReason = "BELOW_MIN_NOTIONAL"
)

// SizingError reports an unsizable entry. The caller skips the trade and keeps
// the confirmed level unconsumed until it expires.
type SizingError struct {
	Reason SizingReason
	Detail string
}

func (e *SizingError) Error() string {
	return fmt.Sprintf("sizing failed (%s): %s", e.Reason, e.Detail)
}

// AsSizingError unwraps err into a SizingError if it is one.
func AsSizingError(err error) (*SizingError, bool) {
	var se *SizingError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
