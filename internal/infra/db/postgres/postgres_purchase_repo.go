package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
)

// Ensure purchaseRepo implements repository.PurchaseRepository
var _ repository.PurchaseRepository = (*purchaseRepo)(nil)

type purchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *purchaseRepo {
	return &purchaseRepo{pool: pool}
}

const purchaseColumns = `
  id, subscriber_id, product_id, platform, store_transaction_id,
  original_transaction_id, purchased_at, expires_at, price_cents, currency,
  environment, status, raw_payload, created_at, updated_at`

func (r *purchaseRepo) Upsert(ctx context.Context, tx repository.Tx, p *model.Purchase) error {
	// Keyed on the store's transaction id, not ours: replaying the same
	// receipt must land on the same ledger row.
	const q = `
INSERT INTO purchases (
  id, subscriber_id, product_id, platform, store_transaction_id,
  original_transaction_id, purchased_at, expires_at, price_cents, currency,
  environment, status, raw_payload, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (platform, store_transaction_id) DO UPDATE SET
  expires_at=$8,
  status=$12,
  raw_payload=$13,
  updated_at=NOW();`

	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.SubscriberID, p.ProductID, p.Platform, p.StoreTransactionID,
		p.OriginalTransactionID, p.PurchasedAt, p.ExpiresAt, p.PriceCents, p.Currency,
		p.Environment, p.Status, p.RawPayload, p.CreatedAt, p.UpdatedAt)
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

func (r *purchaseRepo) FindByStoreTransactionID(ctx context.Context, tx repository.Tx, platform model.Platform, storeTransactionID string) (*model.Purchase, error) {
	q := `SELECT` + purchaseColumns + `
  FROM purchases
 WHERE platform=$1 AND store_transaction_id=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, platform, storeTransactionID)
	if err != nil {
		return nil, err
	}
	return scanPurchaseRow(row)
}

func (r *purchaseRepo) ListBySubscriber(ctx context.Context, tx repository.Tx, subscriberID string) ([]*model.Purchase, error) {
	q := `SELECT` + purchaseColumns + `
  FROM purchases
 WHERE subscriber_id=$1
 ORDER BY purchased_at DESC;`
	return r.list(ctx, tx, q, subscriberID)
}

func (r *purchaseRepo) ListCompletedOneTime(ctx context.Context, tx repository.Tx, subscriberID string) ([]*model.Purchase, error) {
	q := `SELECT` + purchaseColumns + `
  FROM purchases p
 WHERE p.subscriber_id=$1
   AND p.status='completed'
   AND EXISTS (
     SELECT 1 FROM products pr
      WHERE pr.id = p.product_id AND pr.type = 'non_consumable'
   )
 ORDER BY p.purchased_at DESC;`
	return r.list(ctx, tx, q, subscriberID)
}

func (r *purchaseRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PurchaseStatus) error {
	const q = `
UPDATE purchases SET status=$2, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, status)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			return domain.ErrOperationFailed
		}
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *purchaseRepo) list(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.Purchase, error) {
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
	var out []*model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanPurchaseRow(row pgx.Row) (*model.Purchase, error) {
	p := &model.Purchase{}
	var platform, environment, status string
	err := row.Scan(
		&p.ID, &p.SubscriberID, &p.ProductID, &platform, &p.StoreTransactionID,
		&p.OriginalTransactionID, &p.PurchasedAt, &p.ExpiresAt, &p.PriceCents, &p.Currency,
		&environment, &status, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	p.Platform = model.Platform(platform)
	p.Environment = model.Environment(environment)
	p.Status = model.PurchaseStatus(status)
	return p, nil
}

func scanPurchase(rows pgx.Rows) (*model.Purchase, error) {
	p := &model.Purchase{}
	var platform, environment, status string
	err := rows.Scan(
		&p.ID, &p.SubscriberID, &p.ProductID, &platform, &p.StoreTransactionID,
		&p.OriginalTransactionID, &p.PurchasedAt, &p.ExpiresAt, &p.PriceCents, &p.Currency,
		&environment, &status, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	p.Platform = model.Platform(platform)
	p.Environment = model.Environment(environment)
	p.Status = model.PurchaseStatus(status)
	return p, nil
}
