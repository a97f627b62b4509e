package notifier

import "context"

// Notifier delivers structured trade and rebalance events to the operator.
// Formatting lives in formatter.go; transports implement this interface.
type Notifier interface {
	Send(text string) error
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Noop discards every message. Used when no transport is configured and in
// tests.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Send(string) error                                { return nil }
func (n *Noop) SendWithRetry(context.Context, string, int) error { return nil }
