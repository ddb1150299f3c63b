package model

import "time"

type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

// StoreStatus is the subscription state the store itself reports for a
// transaction's subscription at fetch time. One-time products carry
// StoreStatusNone.
type StoreStatus string

const (
	StoreStatusNone         StoreStatus = ""
	StoreStatusActive       StoreStatus = "active"
	StoreStatusExpired      StoreStatus = "expired"
	StoreStatusBillingRetry StoreStatus = "billing_retry"
	StoreStatusGracePeriod  StoreStatus = "grace_period"
	StoreStatusRevoked      StoreStatus = "revoked"
)

// StoreTransaction is the platform-neutral shape every store adapter
// normalizes into. Downstream components depend only on this type, never on
// Apple or Google payloads.
type StoreTransaction struct {
	Platform              Platform
	TransactionID         string
	OriginalTransactionID string
	StoreProductID        string
	PurchaseDate          time.Time
	OriginalPurchaseDate  time.Time
	ExpiresDate           *time.Time
	GracePeriodExpiresAt  *time.Time // end of the billing grace window, when the store reports one
	PriceCents            *int64
	Currency              string
	IsTrialPeriod         bool
	IsIntroOfferPeriod    bool
	AutoRenewEnabled      bool
	Status                StoreStatus
	Environment           Environment
	RawPayload            []byte // normalized store payload, kept for audit/replay
}
