package repository

import (
	"context"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
)

type SubscriberEntitlementRepository interface {
	// Upsert writes a grant keyed on (subscriber, entitlement); granting an
	// already granted entitlement updates the row, never duplicates it.
	Upsert(ctx context.Context, tx Tx, g *model.SubscriberEntitlement) error
	ListBySubscriber(ctx context.Context, tx Tx, subscriberID string) ([]*model.SubscriberEntitlement, error)
	// DeactivateStoreGrants flips every store-derived grant of a subscriber inactive;
	// first half of a full refresh. Manual and promotional grants are not
	// store state and survive a refresh untouched.
	DeactivateStoreGrants(ctx context.Context, tx Tx, subscriberID string) error
	// DeactivateBySubscription flips grants justified by one subscription,
	// used when that subscription expires or is revoked.
	DeactivateBySubscription(ctx context.Context, tx Tx, subscriptionID string) (int, error)
}
