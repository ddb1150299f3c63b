package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
)

// Ensure subscriberEntitlementRepo implements repository.SubscriberEntitlementRepository
var _ repository.SubscriberEntitlementRepository = (*subscriberEntitlementRepo)(nil)

type subscriberEntitlementRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriberEntitlementRepo(pool *pgxpool.Pool) *subscriberEntitlementRepo {
	return &subscriberEntitlementRepo{pool: pool}
}

func (r *subscriberEntitlementRepo) Upsert(ctx context.Context, tx repository.Tx, g *model.SubscriberEntitlement) error {
	const q = `
INSERT INTO subscriber_entitlements (
  id, subscriber_id, entitlement_id, active, expires_at,
  product_id, subscription_id, purchase_id, reason, granted_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (subscriber_id, entitlement_id) DO UPDATE SET
  active=$4,
  expires_at=$5,
  product_id=$6,
  subscription_id=$7,
  purchase_id=$8,
  reason=$9,
  updated_at=NOW();`

	_, err := execSQL(ctx, r.pool, tx, q,
		g.ID, g.SubscriberID, g.EntitlementID, g.Active, g.ExpiresAt,
		g.ProductID, g.SubscriptionID, g.PurchaseID, g.Reason, g.GrantedAt, g.UpdatedAt)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			if isUniqueViolation(err) {
				return domain.ErrAlreadyExists
			}
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *subscriberEntitlementRepo) ListBySubscriber(ctx context.Context, tx repository.Tx, subscriberID string) ([]*model.SubscriberEntitlement, error) {
	const q = `
SELECT id, subscriber_id, entitlement_id, active, expires_at,
       product_id, subscription_id, purchase_id, reason, granted_at, updated_at
  FROM subscriber_entitlements
 WHERE subscriber_id=$1
 ORDER BY granted_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, subscriberID)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()
	var out []*model.SubscriberEntitlement
	for rows.Next() {
		g := &model.SubscriberEntitlement{}
		var reason string
		err := rows.Scan(
			&g.ID, &g.SubscriberID, &g.EntitlementID, &g.Active, &g.ExpiresAt,
			&g.ProductID, &g.SubscriptionID, &g.PurchaseID, &reason, &g.GrantedAt, &g.UpdatedAt)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		g.Reason = model.GrantReason(reason)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriberEntitlementRepo) DeactivateStoreGrants(ctx context.Context, tx repository.Tx, subscriberID string) error {
	const q = `
UPDATE subscriber_entitlements SET active=false, updated_at=NOW()
 WHERE subscriber_id=$1 AND active=true AND reason='store';`
	_, err := execSQL(ctx, r.pool, tx, q, subscriberID)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *subscriberEntitlementRepo) DeactivateBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (int, error) {
	const q = `
UPDATE subscriber_entitlements SET active=false, updated_at=NOW()
 WHERE subscription_id=$1 AND active=true;`
	tag, err := execSQL(ctx, r.pool, tx, q, subscriptionID)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return 0, err
		default:
			return 0, domain.ErrOperationFailed
		}
	}
	return int(tag.RowsAffected()), nil
}
