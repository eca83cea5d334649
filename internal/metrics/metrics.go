// FILE: internal/metrics/metrics.go
// Package metrics – Prometheus metrics for observability.
//
// Exposes the primary series an operator dashboard watches:
//   • forex_predictions_total{instrument,bias}   – predictions made, by bias
//   • forex_trades_opened_total{instrument,direction} – positions opened
//   • forex_trades_closed_total{outcome}          – positions closed, by outcome
//   • forex_equity_usd                            – current account balance (gauge)
//   • forex_drawdown_pct                          – current max drawdown (gauge)
//   • forex_active_positions                      – open position count (gauge)
//   • forex_stream_state{state}                   – price stream connection state
//   • forex_percentile_refresh_total               – rolling-window stat refreshes
//
// Registered in init() and served by the HTTP handler internal/adminapi
// mounts at /metrics (Prometheus text exposition format).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forex_predictions_total",
			Help: "Predictions made, labeled by instrument and bias",
		},
		[]string{"instrument", "bias"},
	)

	tradesOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forex_trades_opened_total",
			Help: "Positions opened, labeled by instrument and direction",
		},
		[]string{"instrument", "direction"},
	)

	tradesClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forex_trades_closed_total",
			Help: "Positions closed, labeled by outcome (WIN|LOSS|BREAKEVEN|TIMEOUT)",
		},
		[]string{"outcome"},
	)

	equityUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forex_equity_usd",
			Help: "Current account balance in USD",
		},
	)

	drawdownPct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forex_drawdown_pct",
			Help: "Current max drawdown from peak balance, in percent",
		},
	)

	activePositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forex_active_positions",
			Help: "Number of currently open positions",
		},
	)

	streamState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forex_stream_state",
			Help: "Price stream connection state indicator (one labeled series set to 1, others 0)",
		},
		[]string{"state"},
	)

	percentileRefreshTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forex_percentile_refresh_total",
			Help: "Number of rolling-window percentile refreshes performed",
		},
	)
)

func init() {
	prometheus.MustRegister(
		predictionsTotal,
		tradesOpenedTotal,
		tradesClosedTotal,
		equityUSD,
		drawdownPct,
		activePositions,
		streamState,
		percentileRefreshTotal,
	)
}

func IncPrediction(instrument, bias string) { predictionsTotal.WithLabelValues(instrument, bias).Inc() }

func IncTradeOpened(instrument, direction string) {
	tradesOpenedTotal.WithLabelValues(instrument, direction).Inc()
}

func IncTradeClosed(outcome string) { tradesClosedTotal.WithLabelValues(outcome).Inc() }

func SetEquity(v float64)      { equityUSD.Set(v) }
func SetDrawdownPct(v float64) { drawdownPct.Set(v) }
func SetActivePositions(n int) { activePositions.Set(float64(n)) }

// streamStates lists every label value SetStreamState must zero out before
// setting the current one, so stale series don't linger at 1.
var streamStates = []string{"disconnected", "connecting", "authenticating", "ready", "closed"}

func SetStreamState(current string) {
	for _, s := range streamStates {
		if s == current {
			streamState.WithLabelValues(s).Set(1)
		} else {
			streamState.WithLabelValues(s).Set(0)
		}
	}
}

func IncPercentileRefresh() { percentileRefreshTotal.Inc() }
