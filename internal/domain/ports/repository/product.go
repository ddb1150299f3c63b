package repository

import (
	"context"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
)

type ProductRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Product) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Product, error)
	// FindByStoreProductID resolves the id a store reports in transactions.
	FindByStoreProductID(ctx context.Context, tx Tx, appID string, platform model.Platform, storeProductID string) (*model.Product, error)
	ListByApp(ctx context.Context, tx Tx, appID string) ([]*model.Product, error)
}

type EntitlementRepository interface {
	Save(ctx context.Context, tx Tx, e *model.Entitlement) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Entitlement, error)
	ListByApp(ctx context.Context, tx Tx, appID string) ([]*model.Entitlement, error)
	// Link attaches an entitlement to a product (idempotent).
	Link(ctx context.Context, tx Tx, productID, entitlementID string) error
	// ListByProduct returns every entitlement a product unlocks.
	ListByProduct(ctx context.Context, tx Tx, productID string) ([]*model.Entitlement, error)
}
