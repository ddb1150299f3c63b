package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
)

// Ensure productRepo implements repository.ProductRepository
var _ repository.ProductRepository = (*productRepo)(nil)

type productRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *productRepo {
	return &productRepo{pool: pool}
}

func (r *productRepo) Save(ctx context.Context, tx repository.Tx, p *model.Product) error {
	const q = `
INSERT INTO products (
  id, app_id, store_product_id, platform, type, display_name, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  display_name=$6;`

	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.AppID, p.StoreProductID, p.Platform, p.Type, p.DisplayName, p.CreatedAt)
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

func (r *productRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Product, error) {
	const q = `
SELECT id, app_id, store_product_id, platform, type, display_name, created_at
  FROM products
 WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *productRepo) FindByStoreProductID(ctx context.Context, tx repository.Tx, appID string, platform model.Platform, storeProductID string) (*model.Product, error) {
	const q = `
SELECT id, app_id, store_product_id, platform, type, display_name, created_at
  FROM products
 WHERE app_id=$1 AND platform=$2 AND store_product_id=$3;`
	return r.queryOne(ctx, tx, q, appID, platform, storeProductID)
}

func (r *productRepo) ListByApp(ctx context.Context, tx repository.Tx, appID string) ([]*model.Product, error) {
	const q = `
SELECT id, app_id, store_product_id, platform, type, display_name, created_at
  FROM products
 WHERE app_id=$1
 ORDER BY created_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, appID)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()
	var out []*model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
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

func (r *productRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Product, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	p := &model.Product{}
	var platform, typ string
	if err := row.Scan(&p.ID, &p.AppID, &p.StoreProductID, &platform, &typ, &p.DisplayName, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	p.Platform = model.Platform(platform)
	p.Type = model.ProductType(typ)
	return p, nil
}

func scanProduct(rows pgx.Rows) (*model.Product, error) {
	p := &model.Product{}
	var platform, typ string
	if err := rows.Scan(&p.ID, &p.AppID, &p.StoreProductID, &platform, &typ, &p.DisplayName, &p.CreatedAt); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	p.Platform = model.Platform(platform)
	p.Type = model.ProductType(typ)
	return p, nil
}
