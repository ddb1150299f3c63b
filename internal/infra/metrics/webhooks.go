package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookDeliveriesTotal,
		webhookAttemptsTotal,
		webhookQueueDropsTotal,
	)
}

var (
	webhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Outbound webhook deliveries by final status.",
		},
		[]string{"status"}, // 'processed', 'failed'
	)

	webhookAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_attempts_total",
			Help: "Individual webhook delivery attempts, including retries.",
		},
	)

	webhookQueueDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_queue_drops_total",
			Help: "Webhook events dropped because the delivery queue was full.",
		},
	)
)

func IncWebhookDelivery(status string) {
	webhookDeliveriesTotal.WithLabelValues(norm(status)).Inc()
}

func IncWebhookAttempt() { webhookAttemptsTotal.Inc() }

func IncWebhookQueueDrop() { webhookQueueDropsTotal.Inc() }
