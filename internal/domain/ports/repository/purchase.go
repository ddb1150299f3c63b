package repository

import (
	"context"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
)

type PurchaseRepository interface {
	// Upsert writes a ledger row keyed on (platform, store transaction id):
	// re-processing the same transaction updates in place.
	Upsert(ctx context.Context, tx Tx, p *model.Purchase) error
	FindByStoreTransactionID(ctx context.Context, tx Tx, platform model.Platform, storeTransactionID string) (*model.Purchase, error)
	ListBySubscriber(ctx context.Context, tx Tx, subscriberID string) ([]*model.Purchase, error)
	// ListCompletedOneTime returns completed purchases of non-consumable
	// products, the non-expiring half of a full entitlement refresh.
	ListCompletedOneTime(ctx context.Context, tx Tx, subscriberID string) ([]*model.Purchase, error)
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.PurchaseStatus) error
}
