package model

import (
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
)

type PurchaseStatus string

const (
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
)

// Purchase is one ledger row per store transaction.
// (Platform, StoreTransactionID) is globally unique: re-processing the same
// transaction updates this row, never duplicates it.
type Purchase struct {
	ID                    string // UUID
	SubscriberID          string
	ProductID             string
	Platform              Platform
	StoreTransactionID    string
	OriginalTransactionID string // empty for one-time purchases
	PurchasedAt           time.Time
	ExpiresAt             *time.Time
	PriceCents            *int64
	Currency              string
	Environment           Environment
	Status                PurchaseStatus
	RawPayload            []byte
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewPurchaseFromTransaction builds a ledger row from a normalized store
// transaction that has already been matched to a subscriber and product.
func NewPurchaseFromTransaction(id string, subscriberID string, productID string, t *StoreTransaction) (*Purchase, error) {
	if id == "" || subscriberID == "" || productID == "" || t == nil || t.TransactionID == "" {
		return nil, domain.ErrInvalidArgument
	}
	status := PurchaseStatusCompleted
	if t.Status == StoreStatusRevoked {
		status = PurchaseStatusRefunded
	}
	now := time.Now()
	return &Purchase{
		ID:                    id,
		SubscriberID:          subscriberID,
		ProductID:             productID,
		Platform:              t.Platform,
		StoreTransactionID:    t.TransactionID,
		OriginalTransactionID: t.OriginalTransactionID,
		PurchasedAt:           t.PurchaseDate,
		ExpiresAt:             t.ExpiresDate,
		PriceCents:            t.PriceCents,
		Currency:              t.Currency,
		Environment:           t.Environment,
		Status:                status,
		RawPayload:            t.RawPayload,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}
