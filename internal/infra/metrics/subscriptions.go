package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
)

func init() {
	register(
		subscriptionsTotal,
		sweeperTransitionsTotal,
		sweeperPassErrorsTotal,
	)
}

var (
	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"},
	)

	sweeperTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_transitions_total",
			Help: "Lifecycle transitions applied by the sweeper, per pass.",
		},
		[]string{"pass"}, // 'expiring_soon', 'expired', 'trial_ended', 'grace_lapsed'
	)

	sweeperPassErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_pass_errors_total",
			Help: "Errors encountered per sweeper pass.",
		},
		[]string{"pass"},
	)
)

func IncSweeperTransitions(pass string, count int) {
	sweeperTransitionsTotal.WithLabelValues(norm(pass)).Add(float64(count))
}

func IncSweeperPassError(pass string) {
	sweeperPassErrorsTotal.WithLabelValues(norm(pass)).Inc()
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusActive,
		model.SubscriptionStatusExpired,
		model.SubscriptionStatusInGracePeriod,
		model.SubscriptionStatusInBillingRetry,
		model.SubscriptionStatusRevoked,
	}
	for _, status := range statuses {
		if count, ok := counts[status]; ok {
			subscriptionsTotal.WithLabelValues(string(status)).Set(float64(count))
		}
	}
}
