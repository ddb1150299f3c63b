package model

import (
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive         SubscriptionStatus = "active"
	SubscriptionStatusExpired        SubscriptionStatus = "expired"
	SubscriptionStatusInGracePeriod  SubscriptionStatus = "in_grace_period"
	SubscriptionStatusInBillingRetry SubscriptionStatus = "in_billing_retry"
	SubscriptionStatusRevoked        SubscriptionStatus = "revoked"
)

// Subscription tracks one auto-renewing purchase across all of its renewals.
// OriginalTransactionID is the store-assigned id that stays constant across
// renewals and is the stable key: at most one non-terminal subscription exists
// per (platform, original transaction id).
type Subscription struct {
	ID                    string // UUID
	SubscriberID          string
	ProductID             string
	Platform              Platform
	OriginalTransactionID string
	LatestTransactionID   string
	Status                SubscriptionStatus
	PurchasedAt           time.Time
	OriginalPurchaseAt    time.Time
	ExpiresAt             *time.Time
	GracePeriodExpiresAt  *time.Time
	AutoRenew             bool
	IsTrial               bool
	IsIntroOffer          bool
	Environment           Environment
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func NewSubscriptionFromTransaction(id, subscriberID, productID string, t *StoreTransaction) (*Subscription, error) {
	if id == "" || subscriberID == "" || productID == "" || t == nil {
		return nil, domain.ErrInvalidArgument
	}
	origID := t.OriginalTransactionID
	if origID == "" {
		origID = t.TransactionID
	}
	now := time.Now()
	s := &Subscription{
		ID:                    id,
		SubscriberID:          subscriberID,
		ProductID:             productID,
		Platform:              t.Platform,
		OriginalTransactionID: origID,
		Status:                SubscriptionStatusActive,
		OriginalPurchaseAt:    t.OriginalPurchaseDate,
		Environment:           t.Environment,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	s.ApplyTransaction(t)
	return s, nil
}

// ApplyTransaction folds a freshly fetched store transaction into the
// subscription. A new purchase or renewal resets the status to active with
// the new expiry and clears grace/retry bookkeeping; store-reported billing
// states map onto the matching lifecycle status. Applying the same
// transaction twice changes nothing beyond UpdatedAt. Returns whether any
// state other than UpdatedAt changed.
func (s *Subscription) ApplyTransaction(t *StoreTransaction) bool {
	if s.Status == SubscriptionStatusRevoked {
		return false
	}
	if t.Status == StoreStatusRevoked {
		return s.Revoke(time.Now())
	}
	// Last-writer-wins on store purchase timestamps: an out-of-order fetch of
	// an older renewal must not roll the subscription back.
	if t.PurchaseDate.Before(s.PurchasedAt) && t.TransactionID != s.LatestTransactionID {
		return false
	}

	changed := s.LatestTransactionID != t.TransactionID ||
		!s.PurchasedAt.Equal(t.PurchaseDate) ||
		s.AutoRenew != t.AutoRenewEnabled ||
		s.IsTrial != t.IsTrialPeriod ||
		!timePtrEqual(s.ExpiresAt, t.ExpiresDate)

	s.LatestTransactionID = t.TransactionID
	s.PurchasedAt = t.PurchaseDate
	s.ExpiresAt = t.ExpiresDate
	s.AutoRenew = t.AutoRenewEnabled
	s.IsTrial = t.IsTrialPeriod
	s.IsIntroOffer = t.IsIntroOfferPeriod
	s.Environment = t.Environment

	prev := s.Status
	prevGrace := s.GracePeriodExpiresAt
	switch t.Status {
	case StoreStatusGracePeriod:
		s.Status = SubscriptionStatusInGracePeriod
		// Keep an already recorded deadline when the store omits one.
		if t.GracePeriodExpiresAt != nil {
			s.GracePeriodExpiresAt = t.GracePeriodExpiresAt
		}
	case StoreStatusBillingRetry:
		s.Status = SubscriptionStatusInBillingRetry
		s.GracePeriodExpiresAt = nil
	case StoreStatusExpired:
		s.Status = SubscriptionStatusExpired
		s.GracePeriodExpiresAt = nil
	default:
		s.Status = SubscriptionStatusActive
		s.GracePeriodExpiresAt = nil
	}
	s.UpdatedAt = time.Now()
	return changed || prev != s.Status || !timePtrEqual(prevGrace, s.GracePeriodExpiresAt)
}

// EnterGracePeriod moves an active subscription into its billing grace
// window. Access is preserved until the window closes.
func (s *Subscription) EnterGracePeriod(until time.Time) bool {
	if s.Status != SubscriptionStatusActive {
		return false
	}
	s.Status = SubscriptionStatusInGracePeriod
	s.GracePeriodExpiresAt = &until
	s.UpdatedAt = time.Now()
	return true
}

// EnterBillingRetry applies the grace-period-elapsed transition. Only valid
// once the grace window has actually passed.
func (s *Subscription) EnterBillingRetry(now time.Time) bool {
	if s.Status != SubscriptionStatusInGracePeriod {
		return false
	}
	if s.GracePeriodExpiresAt != nil && now.Before(*s.GracePeriodExpiresAt) {
		return false
	}
	s.Status = SubscriptionStatusInBillingRetry
	s.GracePeriodExpiresAt = nil
	s.UpdatedAt = time.Now()
	return true
}

// MarkExpired applies the time-driven expiry transition. A subscription never
// expires before its expiry timestamp, and revoked stays revoked.
func (s *Subscription) MarkExpired(now time.Time) bool {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusInBillingRetry {
		return false
	}
	if s.ExpiresAt == nil || now.Before(*s.ExpiresAt) {
		return false
	}
	s.Status = SubscriptionStatusExpired
	s.GracePeriodExpiresAt = nil
	s.UpdatedAt = time.Now()
	return true
}

// Revoke handles refunds/chargebacks. Terminal: no later transition applies.
func (s *Subscription) Revoke(now time.Time) bool {
	if s.Status == SubscriptionStatusRevoked {
		return false
	}
	s.Status = SubscriptionStatusRevoked
	s.GracePeriodExpiresAt = nil
	s.AutoRenew = false
	s.UpdatedAt = now
	return true
}

// ConvertTrial clears the trial flag when a trial ends with auto-renew still
// enabled (conversion to paid).
func (s *Subscription) ConvertTrial() bool {
	if !s.IsTrial {
		return false
	}
	s.IsTrial = false
	s.UpdatedAt = time.Now()
	return true
}

func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusRevoked
}

// GrantsAccess reports whether the subscription currently justifies
// entitlement access: active and grace/retry states preserve access, expired
// and revoked do not.
func (s *Subscription) GrantsAccess() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusInGracePeriod, SubscriptionStatusInBillingRetry:
		return true
	default:
		return false
	}
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
