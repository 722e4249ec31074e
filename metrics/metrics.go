package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SignalsScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gofx_signals_scored_total",
			Help: "Total number of symbols scored, by outcome (emitted/skipped).",
		},
		[]string{"outcome"},
	)

	OrdersSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gofx_orders_submitted_total",
			Help: "Total number of orders sent to the execution sink.",
		},
	)

	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gofx_orders_rejected_total",
			Help: "Signals dropped before dispatch, by reason.",
		},
		[]string{"reason"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gofx_positions_open",
			Help: "Current number of open positions.",
		},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gofx_equity",
			Help: "Last observed account equity.",
		},
	)

	ExternalFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gofx_external_failures_total",
			Help: "Failures of external collaborators, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsScored,
		OrdersSubmitted,
		OrdersRejected,
		PositionsOpen,
		EquityGauge,
		ExternalFailures,
	)
}
