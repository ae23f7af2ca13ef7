package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CandlesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ggshot_candles_received_total",
			Help: "Candle updates received per stream.",
		},
		[]string{"symbol", "timeframe"},
	)
	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ggshot_signals_total",
			Help: "Signals detected by kind.",
		},
		[]string{"symbol", "timeframe", "kind"},
	)
	Admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ggshot_admissions_total",
			Help: "Reservation attempts, result=reserved|busy.",
		},
		[]string{"symbol", "result"},
	)
	RiskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ggshot_risk_rejections_total",
			Help: "Entries skipped by the risk gate.",
		},
		[]string{"symbol"},
	)
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ggshot_orders_total",
			Help: "Orders sent to the venue, kind=entry|stop_loss|take_profit, result=accepted|failed.",
		},
		[]string{"symbol", "kind", "result"},
	)
	Outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ggshot_execution_outcomes_total",
			Help: "Terminal execution states.",
		},
		[]string{"symbol", "state"},
	)
	PartiallyProtected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ggshot_partially_protected_total",
			Help: "Positions left with at least one missing protective order.",
		},
		[]string{"symbol"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ggshot_equity_usdt",
			Help: "Last reported wallet equity.",
		},
	)
	ActivePositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ggshot_active_positions",
			Help: "Ledger records currently held.",
		},
	)
	ClockOffset = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ggshot_clock_offset_ms",
			Help: "Estimated venue clock offset.",
		},
	)
)

func init() {
	prometheus.MustRegister(CandlesReceived, Signals, Admissions, RiskRejections)
	prometheus.MustRegister(Orders, Outcomes, PartiallyProtected)
	prometheus.MustRegister(Equity, ActivePositions, ClockOffset)
}

func Result(ok bool) string {
	if ok {
		return "accepted"
	}
	return "failed"
}
