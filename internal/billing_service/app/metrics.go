package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerOperationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "ledger_operations_total",
			Help:      "Total credit ledger operations.",
		},
		[]string{"operation", "outcome"}, // outcome: success, insufficient, invalid, error
	)

	creditsMovedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "credits_total",
			Help:      "Total credits consumed or granted.",
		},
		[]string{"direction"},
	)

	settlementsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "settlements_total",
			Help:      "Total payment settlement attempts.",
		},
		[]string{"outcome"},
	)

	processorRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "payment_processor_request_duration_seconds",
			Help:      "Duration of payment verification calls to the processor.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)
