package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `
  id, subscriber_id, product_id, platform, original_transaction_id,
  latest_transaction_id, status, purchased_at, original_purchase_at,
  expires_at, grace_period_expires_at, auto_renew, is_trial, is_intro_offer,
  environment, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	// A renewal arrives as a new transaction carrying the same original
	// transaction id, so the upsert key is (platform, original_transaction_id).
	const q = `
INSERT INTO subscriptions (
  id, subscriber_id, product_id, platform, original_transaction_id,
  latest_transaction_id, status, purchased_at, original_purchase_at,
  expires_at, grace_period_expires_at, auto_renew, is_trial, is_intro_offer,
  environment, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (platform, original_transaction_id) DO UPDATE SET
  latest_transaction_id=$6,
  status=$7,
  purchased_at=$8,
  expires_at=$10,
  grace_period_expires_at=$11,
  auto_renew=$12,
  is_trial=$13,
  is_intro_offer=$14,
  environment=$15,
  updated_at=NOW();`

	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.SubscriberID, s.ProductID, s.Platform, s.OriginalTransactionID,
		s.LatestTransactionID, s.Status, s.PurchasedAt, s.OriginalPurchaseAt,
		s.ExpiresAt, s.GracePeriodExpiresAt, s.AutoRenew, s.IsTrial, s.IsIntroOffer,
		s.Environment, s.CreatedAt, s.UpdatedAt)
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

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions
 WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanSubscriptionRow(row)
}

func (r *subscriptionRepo) FindByOriginalTransactionID(ctx context.Context, tx repository.Tx, platform model.Platform, originalTransactionID string) (*model.Subscription, error) {
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions
 WHERE platform=$1 AND original_transaction_id=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, platform, originalTransactionID)
	if err != nil {
		return nil, err
	}
	return scanSubscriptionRow(row)
}

func (r *subscriptionRepo) ListBySubscriber(ctx context.Context, tx repository.Tx, subscriberID string) ([]*model.Subscription, error) {
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions
 WHERE subscriber_id=$1
 ORDER BY purchased_at DESC;`
	return r.list(ctx, tx, q, subscriberID)
}

func (r *subscriptionRepo) ListActiveBySubscriber(ctx context.Context, tx repository.Tx, subscriberID string) ([]*model.Subscription, error) {
	// Grace period and billing retry keep access, so this selector includes
	// them alongside plain active.
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions
 WHERE subscriber_id=$1
   AND status IN ('active','in_grace_period','in_billing_retry')
 ORDER BY purchased_at DESC;`
	return r.list(ctx, tx, q, subscriberID)
}

func (r *subscriptionRepo) FindExpiringSoon(ctx context.Context, tx repository.Tx, now time.Time, lookahead time.Duration) ([]*model.Subscription, error) {
	// Strictly future expiry only. A subscription whose expiry is already in
	// the past is the expired pass's business.
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions
 WHERE status='active'
   AND auto_renew=false
   AND expires_at > $1
   AND expires_at <= $2
 ORDER BY expires_at ASC;`
	return r.list(ctx, tx, q, now, now.Add(lookahead))
}

func (r *subscriptionRepo) FindExpired(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	// Auto-renewing actives are excluded: their lapse is the store's call
	// (billing retry, grace period), observed via fetch or notification, not
	// inferred from a passed timestamp.
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions
 WHERE (status='in_billing_retry' OR (status='active' AND auto_renew=false))
   AND is_trial=false
   AND expires_at IS NOT NULL
   AND expires_at <= $1
 ORDER BY expires_at ASC;`
	return r.list(ctx, tx, q, now)
}

func (r *subscriptionRepo) FindEndedTrials(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions
 WHERE status='active'
   AND is_trial=true
   AND expires_at IS NOT NULL
   AND expires_at <= $1
 ORDER BY expires_at ASC;`
	return r.list(ctx, tx, q, now)
}

func (r *subscriptionRepo) FindLapsedGracePeriods(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions
 WHERE status='in_grace_period'
   AND grace_period_expires_at IS NOT NULL
   AND grace_period_expires_at <= $1
 ORDER BY grace_period_expires_at ASC;`
	return r.list(ctx, tx, q, now)
}

func (r *subscriptionRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from, to model.SubscriptionStatus) (bool, error) {
	// Guarded update: a concurrent renewal that already moved the row off
	// `from` makes this a no-op instead of a clobber.
	const q = `
UPDATE subscriptions SET status=$3, updated_at=NOW()
 WHERE id=$1 AND status=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, from, to)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return false, err
		default:
			return false, domain.ErrOperationFailed
		}
	}
	return tag.RowsAffected() > 0, nil
}

func (r *subscriptionRepo) ClearTrialFlag(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `
UPDATE subscriptions SET is_trial=false, updated_at=NOW()
 WHERE id=$1 AND is_trial=true;`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return false, err
		default:
			return false, domain.ErrOperationFailed
		}
	}
	return tag.RowsAffected() > 0, nil
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `
SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()
	out := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.SubscriptionStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) list(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()
	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSubscriptionRow(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	var platform, status, environment string
	err := row.Scan(
		&s.ID, &s.SubscriberID, &s.ProductID, &platform, &s.OriginalTransactionID,
		&s.LatestTransactionID, &status, &s.PurchasedAt, &s.OriginalPurchaseAt,
		&s.ExpiresAt, &s.GracePeriodExpiresAt, &s.AutoRenew, &s.IsTrial, &s.IsIntroOffer,
		&environment, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.Platform = model.Platform(platform)
	s.Status = model.SubscriptionStatus(status)
	s.Environment = model.Environment(environment)
	return s, nil
}

func scanSubscription(rows pgx.Rows) (*model.Subscription, error) {
	s := &model.Subscription{}
	var platform, status, environment string
	err := rows.Scan(
		&s.ID, &s.SubscriberID, &s.ProductID, &platform, &s.OriginalTransactionID,
		&s.LatestTransactionID, &status, &s.PurchasedAt, &s.OriginalPurchaseAt,
		&s.ExpiresAt, &s.GracePeriodExpiresAt, &s.AutoRenew, &s.IsTrial, &s.IsIntroOffer,
		&environment, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	s.Platform = model.Platform(platform)
	s.Status = model.SubscriptionStatus(status)
	s.Environment = model.Environment(environment)
	return s, nil
}
