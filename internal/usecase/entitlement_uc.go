package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

// EntitlementUseCase derives which entitlements a subscriber currently
// holds from the ledger plus product-entitlement configuration.
type EntitlementUseCase interface {
	// GrantFromProduct grants every entitlement linked to the product;
	// one grant row per (subscriber, entitlement), upserted.
	GrantFromProduct(ctx context.Context, tx repository.Tx, subscriberID string, product *model.Product, ref GrantRef) ([]*model.Entitlement, error)
	// RefreshSubscriber recomputes all store-derived grants inside one
	// transaction holding the per-subscriber lock, so readers never observe
	// the deactivated intermediate state.
	RefreshSubscriber(ctx context.Context, subscriberID string) error
	// ActiveEntitlements returns the grants currently conferring access.
	ActiveEntitlements(ctx context.Context, subscriberID string) ([]*model.SubscriberEntitlement, error)

	// refreshTx is the refresh body, for callers already holding the
	// subscriber lock.
	refreshTx(ctx context.Context, tx repository.Tx, subscriberID string) error
}

// GrantRef carries the provenance of a grant.
type GrantRef struct {
	SubscriptionID *string
	PurchaseID     *string
	ExpiresAt      *time.Time
	Reason         model.GrantReason
}

type entitlementUC struct {
	entitlements repository.EntitlementRepository
	grants       repository.SubscriberEntitlementRepository
	subs         repository.SubscriptionRepository
	purchases    repository.PurchaseRepository
	products     repository.ProductRepository
	txm          repository.TransactionManager
	logger       zerolog.Logger
}

func NewEntitlementUseCase(
	entitlements repository.EntitlementRepository,
	grants repository.SubscriberEntitlementRepository,
	subs repository.SubscriptionRepository,
	purchases repository.PurchaseRepository,
	products repository.ProductRepository,
	txm repository.TransactionManager,
	logger *zerolog.Logger,
) *entitlementUC {
	return &entitlementUC{
		entitlements: entitlements,
		grants:       grants,
		subs:         subs,
		purchases:    purchases,
		products:     products,
		txm:          txm,
		logger:       logger.With().Str("component", "entitlement_uc").Logger(),
	}
}

func (u *entitlementUC) GrantFromProduct(ctx context.Context, tx repository.Tx, subscriberID string, product *model.Product, ref GrantRef) ([]*model.Entitlement, error) {
	linked, err := u.entitlements.ListByProduct(ctx, tx, product.ID)
	if err != nil {
		return nil, err
	}
	reason := ref.Reason
	if reason == "" {
		reason = model.GrantReasonStore
	}
	now := time.Now()
	productID := product.ID
	for _, e := range linked {
		g := &model.SubscriberEntitlement{
			ID:             uuid.NewString(),
			SubscriberID:   subscriberID,
			EntitlementID:  e.ID,
			Active:         true,
			ExpiresAt:      ref.ExpiresAt,
			ProductID:      &productID,
			SubscriptionID: ref.SubscriptionID,
			PurchaseID:     ref.PurchaseID,
			Reason:         reason,
			GrantedAt:      now,
			UpdatedAt:      now,
		}
		if err := u.grants.Upsert(ctx, tx, g); err != nil {
			return nil, err
		}
	}
	return linked, nil
}

func (u *entitlementUC) RefreshSubscriber(ctx context.Context, subscriberID string) error {
	return u.txm.WithSubscriberLock(ctx, subscriberID, func(ctx context.Context, tx repository.Tx) error {
		return u.refreshTx(ctx, tx, subscriberID)
	})
}

// refreshTx deactivates every store-derived grant and re-derives the set
// from subscriptions that still confer access plus completed one-time
// purchases. Must run under the subscriber lock.
func (u *entitlementUC) refreshTx(ctx context.Context, tx repository.Tx, subscriberID string) error {
	if err := u.grants.DeactivateStoreGrants(ctx, tx, subscriberID); err != nil {
		return err
	}

	active, err := u.subs.ListActiveBySubscriber(ctx, tx, subscriberID)
	if err != nil {
		return err
	}
	for _, s := range active {
		product, err := u.products.FindByID(ctx, tx, s.ProductID)
		if err != nil {
			return err
		}
		subID := s.ID
		ref := GrantRef{SubscriptionID: &subID, ExpiresAt: grantExpiry(s), Reason: model.GrantReasonStore}
		if _, err := u.GrantFromProduct(ctx, tx, subscriberID, product, ref); err != nil {
			return err
		}
	}

	oneTime, err := u.purchases.ListCompletedOneTime(ctx, tx, subscriberID)
	if err != nil {
		return err
	}
	for _, p := range oneTime {
		product, err := u.products.FindByID(ctx, tx, p.ProductID)
		if err != nil {
			return err
		}
		purchaseID := p.ID
		ref := GrantRef{PurchaseID: &purchaseID, Reason: model.GrantReasonStore}
		if _, err := u.GrantFromProduct(ctx, tx, subscriberID, product, ref); err != nil {
			return err
		}
	}
	return nil
}

func (u *entitlementUC) ActiveEntitlements(ctx context.Context, subscriberID string) ([]*model.SubscriberEntitlement, error) {
	all, err := u.grants.ListBySubscriber(ctx, repository.NoTX, subscriberID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]*model.SubscriberEntitlement, 0, len(all))
	for _, g := range all {
		if g.IsActive(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

// grantExpiry picks the timestamp until which a subscription justifies
// access. Grace period extends it; billing retry keeps access open-ended
// until the store resolves the charge.
func grantExpiry(s *model.Subscription) *time.Time {
	switch s.Status {
	case model.SubscriptionStatusInBillingRetry:
		return nil
	case model.SubscriptionStatusInGracePeriod:
		if s.GracePeriodExpiresAt != nil {
			if s.ExpiresAt == nil || s.GracePeriodExpiresAt.After(*s.ExpiresAt) {
				return s.GracePeriodExpiresAt
			}
		}
	}
	return s.ExpiresAt
}
