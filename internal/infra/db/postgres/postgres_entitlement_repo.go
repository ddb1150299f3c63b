package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
)

// Ensure entitlementRepo implements repository.EntitlementRepository
var _ repository.EntitlementRepository = (*entitlementRepo)(nil)

type entitlementRepo struct {
	pool *pgxpool.Pool
}

func NewEntitlementRepo(pool *pgxpool.Pool) *entitlementRepo {
	return &entitlementRepo{pool: pool}
}

func (r *entitlementRepo) Save(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	const q = `
INSERT INTO entitlements (
  id, app_id, identifier, display_name, created_at
) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET
  display_name=$4;`

	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.AppID, e.Identifier, e.DisplayName, e.CreatedAt)
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

func (r *entitlementRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Entitlement, error) {
	const q = `
SELECT id, app_id, identifier, display_name, created_at
  FROM entitlements
 WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanEntitlementRow(row)
}

func (r *entitlementRepo) ListByApp(ctx context.Context, tx repository.Tx, appID string) ([]*model.Entitlement, error) {
	const q = `
SELECT id, app_id, identifier, display_name, created_at
  FROM entitlements
 WHERE app_id=$1
 ORDER BY identifier ASC;`
	return r.list(ctx, tx, q, appID)
}

func (r *entitlementRepo) Link(ctx context.Context, tx repository.Tx, productID, entitlementID string) error {
	const q = `
INSERT INTO product_entitlements (product_id, entitlement_id)
VALUES ($1,$2)
ON CONFLICT (product_id, entitlement_id) DO NOTHING;`

	_, err := execSQL(ctx, r.pool, tx, q, productID, entitlementID)
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

func (r *entitlementRepo) ListByProduct(ctx context.Context, tx repository.Tx, productID string) ([]*model.Entitlement, error) {
	const q = `
SELECT e.id, e.app_id, e.identifier, e.display_name, e.created_at
  FROM entitlements e
  JOIN product_entitlements pe ON pe.entitlement_id = e.id
 WHERE pe.product_id=$1
 ORDER BY e.identifier ASC;`
	return r.list(ctx, tx, q, productID)
}

func (r *entitlementRepo) list(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.Entitlement, error) {
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
	var out []*model.Entitlement
	for rows.Next() {
		e := &model.Entitlement{}
		if err := rows.Scan(&e.ID, &e.AppID, &e.Identifier, &e.DisplayName, &e.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanEntitlementRow(row pgx.Row) (*model.Entitlement, error) {
	e := &model.Entitlement{}
	if err := row.Scan(&e.ID, &e.AppID, &e.Identifier, &e.DisplayName, &e.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return e, nil
}
