package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
)

// Ensure webhookEventRepo implements repository.WebhookEventRepository
var _ repository.WebhookEventRepository = (*webhookEventRepo)(nil)

type webhookEventRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepo(pool *pgxpool.Pool) *webhookEventRepo {
	return &webhookEventRepo{pool: pool}
}

func (r *webhookEventRepo) SaveInbound(ctx context.Context, tx repository.Tx, n *model.StoreNotification) error {
	const q = `
INSERT INTO store_notifications (
  id, platform, notification_uuid, type, payload, received_at
) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (platform, notification_uuid) DO NOTHING;`

	_, err := execSQL(ctx, r.pool, tx, q, n.ID, n.Platform, n.NotificationUUID, n.Type, n.Payload, n.ReceivedAt)
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

func (r *webhookEventRepo) InboundExists(ctx context.Context, tx repository.Tx, platform model.Platform, notificationUUID string) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM store_notifications
   WHERE platform=$1 AND notification_uuid=$2
);`
	row, err := pickRow(ctx, r.pool, tx, q, platform, notificationUUID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *webhookEventRepo) SaveDelivery(ctx context.Context, tx repository.Tx, d *model.WebhookDelivery) error {
	const q = `
INSERT INTO webhook_deliveries (
  id, app_id, event_type, status, attempts, last_error, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  status=$4,
  attempts=$5,
  last_error=$6,
  updated_at=NOW();`

	_, err := execSQL(ctx, r.pool, tx, q, d.ID, d.AppID, d.EventType, d.Status, d.Attempts, d.LastError, d.CreatedAt, d.UpdatedAt)
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

func (r *webhookEventRepo) UpdateDelivery(ctx context.Context, tx repository.Tx, id string, status model.DeliveryStatus, attempts int, lastError string) error {
	const q = `
UPDATE webhook_deliveries SET status=$2, attempts=$3, last_error=$4, updated_at=NOW()
 WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, status, attempts, lastError)
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

func (r *webhookEventRepo) Stats(ctx context.Context, tx repository.Tx, appID string) (*repository.WebhookStats, error) {
	const q = `
SELECT
  COUNT(*) FILTER (WHERE status='processed'),
  COUNT(*) FILTER (WHERE status='failed'),
  COUNT(*) FILTER (WHERE status='pending')
  FROM webhook_deliveries
 WHERE app_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, appID)
	if err != nil {
		return nil, err
	}
	st := &repository.WebhookStats{}
	if err := row.Scan(&st.Processed, &st.Failed, &st.Pending); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return st, nil
}

func (r *webhookEventRepo) RecentDeliveries(ctx context.Context, tx repository.Tx, appID string, limit int) ([]*model.WebhookDelivery, error) {
	const q = `
SELECT id, app_id, event_type, status, attempts, last_error, created_at, updated_at
  FROM webhook_deliveries
 WHERE app_id=$1
 ORDER BY created_at DESC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, appID, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()
	var out []*model.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanDelivery(rows pgx.Rows) (*model.WebhookDelivery, error) {
	d := &model.WebhookDelivery{}
	var eventType, status string
	if err := rows.Scan(&d.ID, &d.AppID, &eventType, &status, &d.Attempts, &d.LastError, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	d.EventType = model.WebhookEventType(eventType)
	d.Status = model.DeliveryStatus(status)
	return d, nil
}
