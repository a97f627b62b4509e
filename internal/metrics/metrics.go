// Package metrics exposes the Prometheus series the bot updates while
// trading:
//   - bot_trades_total{side,event}       – brackets opened/closed
//   - bot_sizing_skips_total{side,reason} – entries skipped by the sizer
//   - bot_rebalances_total{reason}        – completed internal transfers
//   - bot_degraded_protection_total       – positions left without a full bracket
//   - bot_account_equity{account}         – last observed equity (gauge)
//   - bot_armed_levels_total{side}        – confirmed levels that reached Armed
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Brackets by side and lifecycle event (open|close)",
		},
		[]string{"side", "event"},
	)

	SizingSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_sizing_skips_total",
			Help: "Entries skipped by the sizing calculator",
		},
		[]string{"side", "reason"},
	)

	Rebalances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_rebalances_total",
			Help: "Completed internal transfers by reason",
		},
		[]string{"reason"},
	)

	DegradedProtection = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_degraded_protection_total",
			Help: "Positions left without a full protective bracket",
		},
	)

	AccountEquity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_account_equity",
			Help: "Last observed equity per account, quote currency",
		},
		[]string{"account"},
	)

	ArmedLevels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_armed_levels_total",
			Help: "Confirmed levels that reached the Armed state",
		},
		[]string{"side"},
	)
)

func init() {
	prometheus.MustRegister(
		Trades,
		SizingSkips,
		Rebalances,
		DegradedProtection,
		AccountEquity,
		ArmedLevels,
	)
}

// Serve starts the /metrics listener in the background. An empty addr
// disables it.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("[WARN] metrics listener: %v", err)
		}
	}()
	log.Printf("[INFO] metrics served at %s/metrics", addr)
}
