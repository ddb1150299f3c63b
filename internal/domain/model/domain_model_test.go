//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
)

func newSubTransaction(txID, origID string, purchased time.Time, expires time.Time) *StoreTransaction {
	return &StoreTransaction{
		Platform:              PlatformAppStore,
		TransactionID:         txID,
		OriginalTransactionID: origID,
		StoreProductID:        "premium_monthly",
		PurchaseDate:          purchased,
		OriginalPurchaseDate:  purchased,
		ExpiresDate:           &expires,
		AutoRenewEnabled:      true,
		Status:                StoreStatusActive,
		Environment:           EnvironmentProduction,
	}
}

// --- Subscriber Model Tests ---

func TestNewSubscriber(t *testing.T) {
	t.Run("should create a new subscriber successfully", func(t *testing.T) {
		s, err := NewSubscriber("sub-1", "app-1", "user-42")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if s.AppUserID != "user-42" {
			t.Errorf("expected app user id 'user-42', got %s", s.AppUserID)
		}
		if s.FirstSeenAt.IsZero() || s.LastSeenAt.IsZero() {
			t.Error("expected seen timestamps to be set")
		}
	})

	t.Run("should fail with missing fields", func(t *testing.T) {
		for _, tc := range []struct {
			name              string
			id, appID, userID string
		}{
			{"empty id", "", "app-1", "user-42"},
			{"empty app id", "sub-1", "", "user-42"},
			{"empty app user id", "sub-1", "app-1", ""},
		} {
			t.Run(tc.name, func(t *testing.T) {
				_, err := NewSubscriber(tc.id, tc.appID, tc.userID)
				if !errors.Is(err, domain.ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
			})
		}
	})
}

// --- Subscription State Machine Tests ---

func TestNewSubscriptionFromTransaction(t *testing.T) {
	now := time.Now()
	expires := now.Add(30 * 24 * time.Hour)

	t.Run("should start active with expiry from the transaction", func(t *testing.T) {
		tr := newSubTransaction("tx-1", "tx-1", now, expires)
		s, err := NewSubscriptionFromTransaction("id-1", "sub-1", "prod-1", tr)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if s.Status != SubscriptionStatusActive {
			t.Errorf("expected active, got %s", s.Status)
		}
		if s.ExpiresAt == nil || !s.ExpiresAt.Equal(expires) {
			t.Errorf("expected expiry %v, got %v", expires, s.ExpiresAt)
		}
		if s.OriginalTransactionID != "tx-1" {
			t.Errorf("expected original transaction id tx-1, got %s", s.OriginalTransactionID)
		}
	})

	t.Run("should fall back to transaction id when original is empty", func(t *testing.T) {
		tr := newSubTransaction("tx-1", "", now, expires)
		s, err := NewSubscriptionFromTransaction("id-1", "sub-1", "prod-1", tr)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if s.OriginalTransactionID != "tx-1" {
			t.Errorf("expected fallback to tx id, got %s", s.OriginalTransactionID)
		}
	})

	t.Run("should fail without a transaction", func(t *testing.T) {
		_, err := NewSubscriptionFromTransaction("id-1", "sub-1", "prod-1", nil)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestSubscription_ApplyTransaction(t *testing.T) {
	now := time.Now()
	expires := now.Add(30 * 24 * time.Hour)

	newActive := func() *Subscription {
		s, err := NewSubscriptionFromTransaction("id-1", "sub-1", "prod-1", newSubTransaction("tx-1", "tx-1", now, expires))
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
		return s
	}

	t.Run("renewal advances expiry and stays active", func(t *testing.T) {
		s := newActive()
		renewExpires := expires.Add(30 * 24 * time.Hour)
		renewal := newSubTransaction("tx-2", "tx-1", expires, renewExpires)

		if changed := s.ApplyTransaction(renewal); !changed {
			t.Fatal("expected renewal to report a change")
		}
		if s.Status != SubscriptionStatusActive {
			t.Errorf("expected active, got %s", s.Status)
		}
		if s.LatestTransactionID != "tx-2" {
			t.Errorf("expected latest tx-2, got %s", s.LatestTransactionID)
		}
		if s.ExpiresAt == nil || !s.ExpiresAt.Equal(renewExpires) {
			t.Errorf("expected new expiry %v, got %v", renewExpires, s.ExpiresAt)
		}
	})

	t.Run("applying the same transaction twice changes nothing", func(t *testing.T) {
		s := newActive()
		if changed := s.ApplyTransaction(newSubTransaction("tx-1", "tx-1", now, expires)); changed {
			t.Error("expected replay to report no change")
		}
		if s.Status != SubscriptionStatusActive {
			t.Errorf("expected active, got %s", s.Status)
		}
	})

	t.Run("out-of-order older renewal does not roll state back", func(t *testing.T) {
		s := newActive()
		renewExpires := expires.Add(30 * 24 * time.Hour)
		s.ApplyTransaction(newSubTransaction("tx-2", "tx-1", expires, renewExpires))

		stale := newSubTransaction("tx-1", "tx-1", now, expires)
		if changed := s.ApplyTransaction(stale); changed {
			t.Error("expected stale transaction to report no change")
		}
		if s.LatestTransactionID != "tx-2" {
			t.Errorf("expected latest to remain tx-2, got %s", s.LatestTransactionID)
		}
		if s.ExpiresAt == nil || !s.ExpiresAt.Equal(renewExpires) {
			t.Errorf("expected expiry to remain %v, got %v", renewExpires, s.ExpiresAt)
		}
	})

	t.Run("store-reported grace period records the deadline", func(t *testing.T) {
		s := newActive()
		deadline := expires.Add(16 * 24 * time.Hour)
		tr := newSubTransaction("tx-1", "tx-1", now, expires)
		tr.Status = StoreStatusGracePeriod
		tr.GracePeriodExpiresAt = &deadline
		if changed := s.ApplyTransaction(tr); !changed {
			t.Fatal("expected status change")
		}
		if s.Status != SubscriptionStatusInGracePeriod {
			t.Errorf("expected in_grace_period, got %s", s.Status)
		}
		if s.GracePeriodExpiresAt == nil || !s.GracePeriodExpiresAt.Equal(deadline) {
			t.Errorf("expected grace deadline %v, got %v", deadline, s.GracePeriodExpiresAt)
		}

		// a re-fetch without the deadline keeps the one already recorded
		repeat := newSubTransaction("tx-1", "tx-1", now, expires)
		repeat.Status = StoreStatusGracePeriod
		s.ApplyTransaction(repeat)
		if s.GracePeriodExpiresAt == nil || !s.GracePeriodExpiresAt.Equal(deadline) {
			t.Errorf("expected grace deadline to survive a deadline-less re-fetch, got %v", s.GracePeriodExpiresAt)
		}

		// billing retry closes the window
		retry := newSubTransaction("tx-1", "tx-1", now, expires)
		retry.Status = StoreStatusBillingRetry
		if changed := s.ApplyTransaction(retry); !changed {
			t.Fatal("expected billing retry to report a change")
		}
		if s.GracePeriodExpiresAt != nil {
			t.Errorf("expected grace deadline cleared in billing retry, got %v", s.GracePeriodExpiresAt)
		}
	})

	t.Run("store-reported revocation is terminal", func(t *testing.T) {
		s := newActive()
		tr := newSubTransaction("tx-1", "tx-1", now, expires)
		tr.Status = StoreStatusRevoked
		if changed := s.ApplyTransaction(tr); !changed {
			t.Fatal("expected revocation to report a change")
		}
		if s.Status != SubscriptionStatusRevoked {
			t.Errorf("expected revoked, got %s", s.Status)
		}
		if s.AutoRenew {
			t.Error("expected auto renew cleared on revocation")
		}

		// nothing reopens a revoked subscription
		renewal := newSubTransaction("tx-9", "tx-1", time.Now(), time.Now().Add(time.Hour))
		if changed := s.ApplyTransaction(renewal); changed {
			t.Error("expected revoked subscription to ignore later transactions")
		}
		if s.Status != SubscriptionStatusRevoked {
			t.Errorf("expected revoked to stick, got %s", s.Status)
		}
	})
}

func TestSubscription_LifecycleTransitions(t *testing.T) {
	now := time.Now()
	expires := now.Add(-time.Second) // already past

	newWithExpiry := func(exp time.Time) *Subscription {
		s, err := NewSubscriptionFromTransaction("id-1", "sub-1", "prod-1", newSubTransaction("tx-1", "tx-1", now.Add(-31*24*time.Hour), exp))
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
		return s
	}

	t.Run("MarkExpired only fires at or after the expiry timestamp", func(t *testing.T) {
		s := newWithExpiry(now.Add(time.Minute))
		if s.MarkExpired(now) {
			t.Error("expected no expiry before the timestamp")
		}
		s = newWithExpiry(expires)
		if !s.MarkExpired(now) {
			t.Fatal("expected expiry at a past timestamp")
		}
		if s.Status != SubscriptionStatusExpired {
			t.Errorf("expected expired, got %s", s.Status)
		}
		if s.GrantsAccess() {
			t.Error("expired subscription must not grant access")
		}
	})

	t.Run("grace period preserves access until it lapses", func(t *testing.T) {
		s := newWithExpiry(expires)
		until := now.Add(16 * 24 * time.Hour)
		if !s.EnterGracePeriod(until) {
			t.Fatal("expected grace entry from active")
		}
		if !s.GrantsAccess() {
			t.Error("grace period must preserve access")
		}
		if s.EnterBillingRetry(now) {
			t.Error("expected no retry transition while the window is open")
		}
		if !s.EnterBillingRetry(until.Add(time.Second)) {
			t.Fatal("expected retry transition once the window lapsed")
		}
		if s.Status != SubscriptionStatusInBillingRetry {
			t.Errorf("expected in_billing_retry, got %s", s.Status)
		}
		if s.GracePeriodExpiresAt != nil {
			t.Error("expected grace bookkeeping cleared")
		}
		if !s.GrantsAccess() {
			t.Error("billing retry must preserve access")
		}
	})

	t.Run("ConvertTrial clears the trial flag once", func(t *testing.T) {
		s := newWithExpiry(now.Add(time.Hour))
		s.IsTrial = true
		if !s.ConvertTrial() {
			t.Fatal("expected conversion of a trial")
		}
		if s.IsTrial {
			t.Error("expected trial flag cleared")
		}
		if s.ConvertTrial() {
			t.Error("expected second conversion to be a no-op")
		}
	})

	t.Run("Revoke is idempotent", func(t *testing.T) {
		s := newWithExpiry(now.Add(time.Hour))
		if !s.Revoke(now) {
			t.Fatal("expected first revoke to apply")
		}
		if s.Revoke(now) {
			t.Error("expected second revoke to be a no-op")
		}
		if !s.IsTerminal() {
			t.Error("expected revoked to be terminal")
		}
	})
}

// --- Purchase Model Tests ---

func TestNewPurchaseFromTransaction(t *testing.T) {
	now := time.Now()

	t.Run("should build a completed ledger row", func(t *testing.T) {
		price := int64(999)
		tr := &StoreTransaction{
			Platform:       PlatformPlayStore,
			TransactionID:  "GPA.1234-5678",
			StoreProductID: "lifetime_unlock",
			PurchaseDate:   now,
			PriceCents:     &price,
			Currency:       "USD",
			Environment:    EnvironmentProduction,
		}
		p, err := NewPurchaseFromTransaction("p-1", "sub-1", "prod-1", tr)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if p.Status != PurchaseStatusCompleted {
			t.Errorf("expected completed, got %s", p.Status)
		}
		if p.PriceCents == nil || *p.PriceCents != 999 {
			t.Errorf("expected price 999, got %v", p.PriceCents)
		}
	})

	t.Run("revoked transaction lands as refunded", func(t *testing.T) {
		tr := &StoreTransaction{
			Platform:      PlatformAppStore,
			TransactionID: "tx-1",
			PurchaseDate:  now,
			Status:        StoreStatusRevoked,
			Environment:   EnvironmentProduction,
		}
		p, err := NewPurchaseFromTransaction("p-1", "sub-1", "prod-1", tr)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if p.Status != PurchaseStatusRefunded {
			t.Errorf("expected refunded, got %s", p.Status)
		}
	})

	t.Run("should fail without required ids", func(t *testing.T) {
		_, err := NewPurchaseFromTransaction("", "sub-1", "prod-1", &StoreTransaction{TransactionID: "tx-1", PurchaseDate: now})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

// --- Grant Model Tests ---

func TestSubscriberEntitlement_IsActive(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	for _, tc := range []struct {
		name      string
		active    bool
		expiresAt *time.Time
		want      bool
	}{
		{"active without expiry", true, nil, true},
		{"active with future expiry", true, &future, true},
		{"active with past expiry", true, &past, false},
		{"inactive", false, &future, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := &SubscriberEntitlement{Active: tc.active, ExpiresAt: tc.expiresAt}
			if got := g.IsActive(now); got != tc.want {
				t.Errorf("IsActive = %v, want %v", got, tc.want)
			}
		})
	}
}
