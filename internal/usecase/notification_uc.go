package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/adapter"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/metrics"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

// StoreSignal is a platform-neutral "something changed, re-check" decoded
// from an inbound store push. The payload itself is never trusted as state;
// authoritative data is re-fetched from the store.
type StoreSignal struct {
	Platform         model.Platform
	NotificationUUID string
	Type             string
	Actionable       bool
	Ref              adapter.TransactionRef
	GraceDeadline    *time.Time // billing grace deadline carried by the push, when present
	Raw              []byte
}

type NotificationUseCase interface {
	// Process dedupes, audits and applies one inbound store notification.
	// Unknown or unattributable references are ignored, not errors: the
	// store retries on non-2xx and a permanent failure would retry forever.
	Process(ctx context.Context, sig StoreSignal) error
}

type notificationUC struct {
	adapters    map[model.Platform]adapter.StoreAdapter
	products    repository.ProductRepository
	subs        repository.SubscriptionRepository
	purchases   repository.PurchaseRepository
	subscribers repository.SubscriberRepository
	inbound     repository.WebhookEventRepository
	receipts    ReceiptUseCase
	appID       string
	logger      zerolog.Logger
}

func NewNotificationUseCase(
	adapters map[model.Platform]adapter.StoreAdapter,
	products repository.ProductRepository,
	subs repository.SubscriptionRepository,
	purchases repository.PurchaseRepository,
	subscribers repository.SubscriberRepository,
	inbound repository.WebhookEventRepository,
	receipts ReceiptUseCase,
	appID string,
	logger *zerolog.Logger,
) *notificationUC {
	return &notificationUC{
		adapters:    adapters,
		products:    products,
		subs:        subs,
		purchases:   purchases,
		subscribers: subscribers,
		inbound:     inbound,
		receipts:    receipts,
		appID:       appID,
		logger:      logger.With().Str("component", "notification_uc").Logger(),
	}
}

func (u *notificationUC) Process(ctx context.Context, sig StoreSignal) error {
	if sig.NotificationUUID == "" {
		return domain.ErrInvalidArgument
	}

	exists, err := u.inbound.InboundExists(ctx, repository.NoTX, sig.Platform, sig.NotificationUUID)
	if err != nil {
		return err
	}
	if exists {
		metrics.IncStoreNotification(string(sig.Platform), "duplicate")
		u.logger.Debug().Str("uuid", sig.NotificationUUID).Msg("duplicate notification")
		return nil
	}

	record := &model.StoreNotification{
		ID:               uuid.NewString(),
		Platform:         sig.Platform,
		NotificationUUID: sig.NotificationUUID,
		Type:             sig.Type,
		Payload:          sig.Raw,
		ReceivedAt:       time.Now(),
	}
	if err := u.inbound.SaveInbound(ctx, repository.NoTX, record); err != nil {
		return err
	}

	if !sig.Actionable {
		metrics.IncStoreNotification(string(sig.Platform), "ignored")
		return nil
	}

	store, ok := u.adapters[sig.Platform]
	if !ok {
		metrics.IncStoreNotification(string(sig.Platform), "ignored")
		return nil
	}
	t, err := store.FetchTransaction(ctx, sig.Ref)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			metrics.IncStoreNotification(string(sig.Platform), "ignored")
			u.logger.Warn().Str("uuid", sig.NotificationUUID).Msg("notification references unknown transaction")
			return nil
		}
		metrics.IncStoreNotification(string(sig.Platform), "error")
		return err
	}
	// The push can be fresher than the statuses endpoint; keep its grace
	// deadline when the fetch came back without one.
	if t.GracePeriodExpiresAt == nil && sig.GraceDeadline != nil {
		t.GracePeriodExpiresAt = sig.GraceDeadline
	}

	product, err := u.products.FindByStoreProductID(ctx, repository.NoTX, u.appID, t.Platform, t.StoreProductID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncStoreNotification(string(sig.Platform), "ignored")
			u.logger.Warn().Str("store_product_id", t.StoreProductID).Msg("notification for unmapped product")
			return nil
		}
		metrics.IncStoreNotification(string(sig.Platform), "error")
		return err
	}

	subscriber, err := u.attributeSubscriber(ctx, t)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// A push for a transaction we have never seen via a receipt: we
			// cannot invent an app user id, so wait for the client to
			// validate.
			metrics.IncStoreNotification(string(sig.Platform), "ignored")
			u.logger.Info().Str("transaction_id", t.TransactionID).Msg("notification precedes first receipt, skipped")
			return nil
		}
		metrics.IncStoreNotification(string(sig.Platform), "error")
		return err
	}

	if err := u.receipts.processTransaction(ctx, subscriber, product, t); err != nil {
		metrics.IncStoreNotification(string(sig.Platform), "error")
		return err
	}
	metrics.IncStoreNotification(string(sig.Platform), "processed")
	return nil
}

// attributeSubscriber maps a store transaction back to the subscriber who
// first validated it, via the subscription or the ledger.
func (u *notificationUC) attributeSubscriber(ctx context.Context, t *model.StoreTransaction) (*model.Subscriber, error) {
	origID := t.OriginalTransactionID
	if origID == "" {
		origID = t.TransactionID
	}
	if sub, err := u.subs.FindByOriginalTransactionID(ctx, repository.NoTX, t.Platform, origID); err == nil {
		return u.subscribers.FindByID(ctx, repository.NoTX, sub.SubscriberID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if p, err := u.purchases.FindByStoreTransactionID(ctx, repository.NoTX, t.Platform, t.TransactionID); err == nil {
		return u.subscribers.FindByID(ctx, repository.NoTX, p.SubscriberID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return nil, domain.ErrNotFound
}
