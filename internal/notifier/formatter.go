package notifier

import (
	"fmt"
	"strings"

	"TradePilot/internal/model"
	"TradePilot/internal/risk"
)

// FormatTradeOpened formats a freshly opened bracket into a Telegram message.
func FormatTradeOpened(trade *model.ActiveTrade) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🚀 <b>%s opened</b> | %s\n\n", trade.Side, trade.Account))
	b.WriteString(fmt.Sprintf("Entry: %.6f (%s)\n", trade.EntryPrice, trade.Status))
	b.WriteString(fmt.Sprintf("Quantity: %.2f\n", trade.Quantity))
	b.WriteString(fmt.Sprintf("Take-profit: %.6f\n", trade.TakeProfit))
	b.WriteString(fmt.Sprintf("Stop-loss: %.6f\n", trade.StopLoss))
	return b.String()
}

// FormatTradeClosed formats a closed trade.
func FormatTradeClosed(trade *model.ActiveTrade) string {
	return fmt.Sprintf("🏁 <b>%s closed</b> | %s\n\nEntry was %.6f, qty %.2f",
		trade.Side, trade.Account, trade.EntryPrice, trade.Quantity)
}

// FormatRebalance formats one completed transfer.
func FormatRebalance(evt model.RebalanceEvent) string {
	return fmt.Sprintf("⚖️ <b>Rebalance (%s)</b>\n\n%s → %s: %s\nTransfer ID: %s",
		evt.Reason, evt.From, evt.To, evt.Amount.StringFixed(4), evt.TransferID)
}

// FormatSizingSkipped reports a skipped entry with the numbers behind the
// decision, so the operator can reconstruct it.
func FormatSizingSkipped(level model.ConfirmedLevel, in risk.Inputs, err error) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⏭️ <b>%s entry skipped</b>\n\n", level.Side))
	b.WriteString(fmt.Sprintf("Level: %.6f | Stop: %.6f\n", level.LevelPrice, level.StopPrice))
	b.WriteString(fmt.Sprintf("Entry ref: %.6f\n", in.EntryPrice))
	b.WriteString(fmt.Sprintf("Equity: %.2f (side) / %.2f (combined)\n", in.AccountEquity, in.CombinedEquity))
	b.WriteString(fmt.Sprintf("Reason: %v", err))
	return b.String()
}

// FormatDegradedProtection warns that a live position is missing an exit leg.
func FormatDegradedProtection(side model.Side, detail string) string {
	return fmt.Sprintf("🚨 <b>DEGRADED PROTECTION</b>\n\n%s position is live without a full bracket:\n%s",
		side, detail)
}

// FormatEntryAborted reports an entry rejection; the side is unlocked again.
func FormatEntryAborted(side model.Side, err error) string {
	return fmt.Sprintf("❌ <b>%s entry aborted</b>\n\n%v", side, err)
}
