package adapter

import (
	"context"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
)

// TransactionRef identifies a transaction to a store. Apple keys by
// transaction id; Google keys by (store product id, purchase token).
type TransactionRef struct {
	TransactionID  string
	StoreProductID string
	PurchaseToken  string
}

// StoreAdapter is the hex port for platform store APIs. Each implementation
// talks to exactly one store and normalizes its payloads into
// model.StoreTransaction; nothing downstream sees platform-specific shapes.
//
// FetchTransaction returns domain.ErrMissingStoreCredentials when the
// adapter has no usable credential set (callers must not retry),
// domain.ErrTransactionNotFound when the store does not know the reference,
// and domain.ErrStoreUnavailable (wrapped) on transient store failures.
type StoreAdapter interface {
	Platform() model.Platform
	FetchTransaction(ctx context.Context, ref TransactionRef) (*model.StoreTransaction, error)
}
