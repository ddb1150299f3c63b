package store

import (
	"context"
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/adapter"
)

var _ adapter.StoreAdapter = (*NoopStoreAdapter)(nil)

// NoopStoreAdapter implements adapter.StoreAdapter for local/dev runs
// without store credentials. Every fetch returns an active month-long
// subscription for the referenced product.
type NoopStoreAdapter struct {
	platform model.Platform
}

func NewNoopStoreAdapter(platform model.Platform) *NoopStoreAdapter {
	return &NoopStoreAdapter{platform: platform}
}

func (a *NoopStoreAdapter) Platform() model.Platform { return a.platform }

func (a *NoopStoreAdapter) FetchTransaction(ctx context.Context, ref adapter.TransactionRef) (*model.StoreTransaction, error) {
	if ref.TransactionID == "" && ref.PurchaseToken == "" {
		return nil, domain.ErrInvalidArgument
	}
	id := ref.TransactionID
	if id == "" {
		id = ref.PurchaseToken
	}
	now := time.Now()
	expires := now.Add(30 * 24 * time.Hour)
	return &model.StoreTransaction{
		Platform:              a.platform,
		TransactionID:         id,
		OriginalTransactionID: id,
		StoreProductID:        ref.StoreProductID,
		PurchaseDate:          now,
		OriginalPurchaseDate:  now,
		ExpiresDate:           &expires,
		AutoRenewEnabled:      true,
		Status:                model.StoreStatusActive,
		Environment:           model.EnvironmentSandbox,
	}, nil
}
