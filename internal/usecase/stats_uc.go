package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/metrics"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

// WebhookReport is the delivery-stats read model.
type WebhookReport struct {
	Stats  *repository.WebhookStats
	Recent []*model.WebhookDelivery
}

type StatsUseCase interface {
	WebhookStats(ctx context.Context, recentLimit int) (*WebhookReport, error)
	// PublishGauges pushes current subscription counts to the metrics
	// registry; called after each sweep.
	PublishGauges(ctx context.Context) error
}

type statsUC struct {
	deliveries repository.WebhookEventRepository
	subs       repository.SubscriptionRepository
	appID      string
	logger     zerolog.Logger
}

func NewStatsUseCase(deliveries repository.WebhookEventRepository, subs repository.SubscriptionRepository, appID string, logger *zerolog.Logger) *statsUC {
	return &statsUC{
		deliveries: deliveries,
		subs:       subs,
		appID:      appID,
		logger:     logger.With().Str("component", "stats_uc").Logger(),
	}
}

func (u *statsUC) WebhookStats(ctx context.Context, recentLimit int) (*WebhookReport, error) {
	if recentLimit <= 0 || recentLimit > 100 {
		recentLimit = 20
	}
	stats, err := u.deliveries.Stats(ctx, repository.NoTX, u.appID)
	if err != nil {
		return nil, err
	}
	recent, err := u.deliveries.RecentDeliveries(ctx, repository.NoTX, u.appID, recentLimit)
	if err != nil {
		return nil, err
	}
	return &WebhookReport{Stats: stats, Recent: recent}, nil
}

func (u *statsUC) PublishGauges(ctx context.Context) error {
	counts, err := u.subs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return err
	}
	metrics.SetSubscriptionsTotal(counts)
	return nil
}
