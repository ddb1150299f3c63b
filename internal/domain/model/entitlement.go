package model

import (
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
)

// Entitlement is a named capability an app gates behind purchase, such as
// "premium". Products unlock entitlements through product-entitlement links.
type Entitlement struct {
	ID          string // UUID
	AppID       string
	Identifier  string // app-facing name, unique per app
	DisplayName string
	CreatedAt   time.Time
}

func NewEntitlement(id, appID, identifier, displayName string) (*Entitlement, error) {
	if id == "" || appID == "" || identifier == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Entitlement{
		ID:          id,
		AppID:       appID,
		Identifier:  identifier,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}, nil
}

type GrantReason string

const (
	GrantReasonStore       GrantReason = "store"
	GrantReasonManual      GrantReason = "manual"
	GrantReasonPromotional GrantReason = "promotional"
)

// SubscriberEntitlement is the persisted grant record: one row per
// (subscriber, entitlement), upserted rather than duplicated. Provenance
// fields point at whatever most recently justified the grant.
type SubscriberEntitlement struct {
	ID             string // UUID
	SubscriberID   string
	EntitlementID  string
	Active         bool
	ExpiresAt      *time.Time // nil = non-expiring
	ProductID      *string
	SubscriptionID *string
	PurchaseID     *string
	Reason         GrantReason
	GrantedAt      time.Time
	UpdatedAt      time.Time
}

// IsActive reports whether the grant currently confers access.
func (g *SubscriberEntitlement) IsActive(now time.Time) bool {
	if !g.Active {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}
