package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dair",
		Subsystem: "coordinator",
		Name:      "dispatches_total",
		Help:      "Validation jobs sent to a validator",
	})

	completionsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dair",
		Subsystem: "coordinator",
		Name:      "completions_total",
		Help:      "Places completed by a verified validator reply",
	})

	revertsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dair",
		Subsystem: "coordinator",
		Name:      "reverts_total",
		Help:      "Places returned to AWAITING_VALIDATOR, by reason",
	}, []string{"reason"})

	discardedRepliesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dair",
		Subsystem: "coordinator",
		Name:      "discarded_replies_total",
		Help:      "Replies for unknown or already consumed correlation ids",
	})

	signupsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dair",
		Subsystem: "coordinator",
		Name:      "signups_total",
		Help:      "Signup attempts, by outcome",
	}, []string{"outcome"})

	sessionsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dair",
		Subsystem: "coordinator",
		Name:      "sessions",
		Help:      "Live coordination sessions",
	})
)
