package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
)

// Ensure subscriberRepo implements repository.SubscriberRepository
var _ repository.SubscriberRepository = (*subscriberRepo)(nil)

type subscriberRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriberRepo(pool *pgxpool.Pool) *subscriberRepo {
	return &subscriberRepo{pool: pool}
}

func (r *subscriberRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscriber) error {
	const q = `
INSERT INTO subscribers (
  id, app_id, app_user_id, aliases, attributes, first_seen_at, last_seen_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  app_user_id=$3, aliases=$4, attributes=$5, last_seen_at=$7;`

	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.AppID, s.AppUserID, s.Aliases, s.Attributes, s.FirstSeenAt, s.LastSeenAt)
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

func (r *subscriberRepo) FindByAppUser(ctx context.Context, tx repository.Tx, appID, appUserID string) (*model.Subscriber, error) {
	const q = `
SELECT id, app_id, app_user_id, aliases, attributes, first_seen_at, last_seen_at
  FROM subscribers
 WHERE app_id=$1 AND (app_user_id=$2 OR $2 = ANY(aliases))
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, appID, appUserID)
}

func (r *subscriberRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscriber, error) {
	const q = `
SELECT id, app_id, app_user_id, aliases, attributes, first_seen_at, last_seen_at
  FROM subscribers
 WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriberRepo) CountSubscribers(ctx context.Context, tx repository.Tx) (int, error) {
	const q = `SELECT COUNT(*) FROM subscribers;`
	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *subscriberRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Subscriber, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}

	s := &model.Subscriber{}
	if err := row.Scan(&s.ID, &s.AppID, &s.AppUserID, &s.Aliases, &s.Attributes, &s.FirstSeenAt, &s.LastSeenAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}
