//go:build !integration

package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
)

func TestEntitlementUC_RefreshSubscriber(t *testing.T) {
	seed := func(t *testing.T, f *fixture, status model.SubscriptionStatus, mutate func(*model.Subscription)) *model.Subscription {
		t.Helper()
		f.seedSubscriptionProduct(t)
		s := seedSweepSubscription(t, f, "s1", func(s *model.Subscription) {
			s.Status = status
			if mutate != nil {
				mutate(s)
			}
		})
		return s
	}

	t.Run("active subscription grants until its expiry", func(t *testing.T) {
		f := newFixture()
		s := seed(t, f, model.SubscriptionStatusActive, nil)

		if err := f.entitlementUC.RefreshSubscriber(context.Background(), s.SubscriberID); err != nil {
			t.Fatalf("refresh: %v", err)
		}

		grants, _ := f.grants.ListBySubscriber(context.Background(), nil, s.SubscriberID)
		if len(grants) != 1 {
			t.Fatalf("expected one grant, got %d", len(grants))
		}
		g := grants[0]
		if !g.Active || g.EntitlementID != "ent-premium" {
			t.Errorf("unexpected grant %+v", g)
		}
		if g.ExpiresAt == nil || !g.ExpiresAt.Equal(*s.ExpiresAt) {
			t.Errorf("expected grant expiry %v, got %v", s.ExpiresAt, g.ExpiresAt)
		}
	})

	t.Run("grace period extends the grant to the grace deadline", func(t *testing.T) {
		f := newFixture()
		grace := time.Now().Add(40 * 24 * time.Hour)
		s := seed(t, f, model.SubscriptionStatusInGracePeriod, func(s *model.Subscription) {
			s.GracePeriodExpiresAt = &grace
		})

		if err := f.entitlementUC.RefreshSubscriber(context.Background(), s.SubscriberID); err != nil {
			t.Fatalf("refresh: %v", err)
		}

		grants, _ := f.grants.ListBySubscriber(context.Background(), nil, s.SubscriberID)
		if len(grants) != 1 {
			t.Fatalf("expected one grant, got %d", len(grants))
		}
		if grants[0].ExpiresAt == nil || !grants[0].ExpiresAt.Equal(grace) {
			t.Errorf("expected grace deadline %v, got %v", grace, grants[0].ExpiresAt)
		}
	})

	t.Run("billing retry grants open-ended access", func(t *testing.T) {
		f := newFixture()
		past := time.Now().Add(-time.Hour)
		s := seed(t, f, model.SubscriptionStatusInBillingRetry, func(s *model.Subscription) {
			s.ExpiresAt = &past
		})

		if err := f.entitlementUC.RefreshSubscriber(context.Background(), s.SubscriberID); err != nil {
			t.Fatalf("refresh: %v", err)
		}

		grants, _ := f.grants.ListBySubscriber(context.Background(), nil, s.SubscriberID)
		if len(grants) != 1 {
			t.Fatalf("expected one grant, got %d", len(grants))
		}
		if grants[0].ExpiresAt != nil {
			t.Errorf("expected open-ended grant in billing retry, got %v", grants[0].ExpiresAt)
		}
	})

	t.Run("expired subscription grants nothing", func(t *testing.T) {
		f := newFixture()
		s := seed(t, f, model.SubscriptionStatusExpired, nil)

		if err := f.entitlementUC.RefreshSubscriber(context.Background(), s.SubscriberID); err != nil {
			t.Fatalf("refresh: %v", err)
		}

		active, err := f.entitlementUC.ActiveEntitlements(context.Background(), s.SubscriberID)
		if err != nil {
			t.Fatalf("active entitlements: %v", err)
		}
		if len(active) != 0 {
			t.Errorf("expected no active grants, got %+v", active)
		}
	})

	t.Run("refresh converges to the same grant set", func(t *testing.T) {
		f := newFixture()
		s := seed(t, f, model.SubscriptionStatusActive, nil)

		for i := 0; i < 3; i++ {
			if err := f.entitlementUC.RefreshSubscriber(context.Background(), s.SubscriberID); err != nil {
				t.Fatalf("refresh %d: %v", i, err)
			}
		}

		grants, _ := f.grants.ListBySubscriber(context.Background(), nil, s.SubscriberID)
		if len(grants) != 1 {
			t.Fatalf("expected refresh to upsert one grant, got %d", len(grants))
		}
	})
}

func TestStatsUC_WebhookStats(t *testing.T) {
	f := newFixture()
	statsUC := NewStatsUseCase(f.events, f.subs, testAppID, nopLogger())
	ctx := context.Background()

	now := time.Now()
	for _, d := range []*model.WebhookDelivery{
		{ID: "d1", AppID: testAppID, EventType: model.EventSubscriptionCreated, Status: model.DeliveryStatusProcessed, Attempts: 1, CreatedAt: now, UpdatedAt: now},
		{ID: "d2", AppID: testAppID, EventType: model.EventSubscriptionRenewed, Status: model.DeliveryStatusFailed, Attempts: 3, CreatedAt: now, UpdatedAt: now},
		{ID: "d3", AppID: testAppID, EventType: model.EventSubscriptionExpired, Status: model.DeliveryStatusPending, CreatedAt: now, UpdatedAt: now},
		{ID: "d4", AppID: "other-app", EventType: model.EventSubscriptionCreated, Status: model.DeliveryStatusProcessed, CreatedAt: now, UpdatedAt: now},
	} {
		if err := f.events.SaveDelivery(ctx, nil, d); err != nil {
			t.Fatalf("seed delivery: %v", err)
		}
	}

	report, err := statsUC.WebhookStats(ctx, 10)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if report.Stats.Processed != 1 || report.Stats.Failed != 1 || report.Stats.Pending != 1 {
		t.Errorf("unexpected stats %+v", report.Stats)
	}
	if len(report.Recent) != 3 {
		t.Errorf("expected 3 recent deliveries for the app, got %d", len(report.Recent))
	}
}

func TestSubscriberUC_GetInfo(t *testing.T) {
	f := newFixture()
	subscriberUC := NewSubscriberUseCase(f.subscribers, f.receiptUC, testAppID, nopLogger())
	ctx := context.Background()

	t.Run("unknown app user id", func(t *testing.T) {
		if _, err := subscriberUC.GetInfo(ctx, "nobody"); err == nil {
			t.Fatal("expected not found error")
		}
	})

	t.Run("known subscriber snapshot", func(t *testing.T) {
		subscriber, _ := model.NewSubscriber("sub-1", testAppID, "user-1")
		if err := f.subscribers.Save(ctx, nil, subscriber); err != nil {
			t.Fatalf("seed subscriber: %v", err)
		}
		snap, err := subscriberUC.GetInfo(ctx, "user-1")
		if err != nil {
			t.Fatalf("get info: %v", err)
		}
		if snap.Subscriber.ID != "sub-1" {
			t.Errorf("expected sub-1, got %s", snap.Subscriber.ID)
		}
	})
}
