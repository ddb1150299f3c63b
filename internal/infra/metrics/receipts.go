package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		receiptValidationsTotal,
		storeFetchLatencyMs,
		storeNotificationsTotal,
	)
}

var (
	receiptValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_validations_total",
			Help: "Receipt validations by platform and outcome.",
		},
		[]string{"platform", "outcome"}, // outcome: 'ok', 'not_found', 'unrecognized', 'store_error', 'error'
	)

	storeFetchLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_fetch_latency_ms",
			Help:    "Store API transaction fetch latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"platform", "success"},
	)

	storeNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_notifications_total",
			Help: "Inbound store server notifications by platform and outcome.",
		},
		[]string{"platform", "outcome"}, // outcome: 'processed', 'duplicate', 'ignored', 'error'
	)
)

func IncReceiptValidation(platform, outcome string) {
	receiptValidationsTotal.WithLabelValues(norm(platform), norm(outcome)).Inc()
}

func ObserveStoreFetch(platform string, latencyMs int, success bool) {
	storeFetchLatencyMs.WithLabelValues(norm(platform), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncStoreNotification(platform, outcome string) {
	storeNotificationsTotal.WithLabelValues(norm(platform), norm(outcome)).Inc()
}
