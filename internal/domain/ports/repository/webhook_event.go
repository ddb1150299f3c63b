package repository

import (
	"context"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
)

// WebhookStats aggregates outbound delivery outcomes for the stats surface.
type WebhookStats struct {
	Processed int
	Failed    int
	Pending   int
}

type WebhookEventRepository interface {
	// SaveInbound appends an inbound store notification to the audit log.
	SaveInbound(ctx context.Context, tx Tx, n *model.StoreNotification) error
	// InboundExists dedupes store redeliveries by notification UUID.
	InboundExists(ctx context.Context, tx Tx, platform model.Platform, notificationUUID string) (bool, error)

	SaveDelivery(ctx context.Context, tx Tx, d *model.WebhookDelivery) error
	// UpdateDelivery records the outcome of a delivery attempt.
	UpdateDelivery(ctx context.Context, tx Tx, id string, status model.DeliveryStatus, attempts int, lastError string) error
	Stats(ctx context.Context, tx Tx, appID string) (*WebhookStats, error)
	RecentDeliveries(ctx context.Context, tx Tx, appID string, limit int) ([]*model.WebhookDelivery, error)
}
