package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockbot",
		Name:      "trades_total",
		Help:      "Completed trades by side.",
	}, []string{"side"})

	TradeVolume = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockbot",
		Name:      "trade_volume_shares_total",
		Help:      "Shares traded by side.",
	}, []string{"side"})

	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockbot",
		Name:      "command_errors_total",
		Help:      "Rejected or failed operations by operation and reason.",
	}, []string{"op", "reason"})

	TxConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockbot",
		Name:      "tx_conflicts_total",
		Help:      "Store serialization conflicts that triggered a retry.",
	}, []string{"op"})

	DriftTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stockbot",
		Name:      "drift_ticks_total",
		Help:      "Completed drift ticks.",
	})

	EventsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockbot",
		Name:      "events_handled_total",
		Help:      "Outbox events passed to handlers by kind and result.",
	}, []string{"kind", "result"})

	MarketValue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stockbot",
		Name:      "market_value_coins",
		Help:      "Total value of all holdings at current prices.",
	})

	OpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stockbot",
		Name:      "operation_duration_seconds",
		Help:      "Engine operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		TradesTotal,
		TradeVolume,
		CommandErrors,
		TxConflicts,
		DriftTicks,
		EventsHandled,
		MarketValue,
		OpLatency,
	)
}

// ObserveEvent counts one handler pass over an outbox event.
func ObserveEvent(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsHandled.WithLabelValues(kind, result).Inc()
}
