package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/adapter"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/logging"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/metrics"
)

// Compile-time check
var _ ReceiptUseCase = (*receiptUC)(nil)

// ValidateReceiptRequest is the inbound "validate receipt" contract.
// TransactionID identifies the purchase on the App Store; Google needs the
// purchase token plus the store product id.
type ValidateReceiptRequest struct {
	AppUserID      string
	Platform       model.Platform
	TransactionID  string
	StoreProductID string
	PurchaseToken  string
}

// SubscriberSnapshot is the read model returned to the app backend: who the
// subscriber is, what currently grants access, and how they got there.
type SubscriberSnapshot struct {
	Subscriber       *model.Subscriber
	Subscriptions    []*model.Subscription
	Entitlements     []*model.SubscriberEntitlement
	OneTimePurchases []*model.Purchase
}

type ReceiptUseCase interface {
	// Validate fetches authoritative transaction state from the store,
	// records it, updates the subscription and entitlements, and returns the
	// subscriber's resulting snapshot. Validating the same receipt twice is
	// a no-op beyond timestamp refresh.
	Validate(ctx context.Context, req ValidateReceiptRequest) (*SubscriberSnapshot, error)
	// Snapshot builds the read model for an already known subscriber.
	Snapshot(ctx context.Context, subscriber *model.Subscriber) (*SubscriberSnapshot, error)

	// processTransaction is the shared apply path, also driven by store
	// notifications.
	processTransaction(ctx context.Context, subscriber *model.Subscriber, product *model.Product, t *model.StoreTransaction) error
}

type receiptUC struct {
	adapters     map[model.Platform]adapter.StoreAdapter
	products     repository.ProductRepository
	subscribers  repository.SubscriberRepository
	purchases    repository.PurchaseRepository
	subs         repository.SubscriptionRepository
	entitlements EntitlementUseCase
	txm          repository.TransactionManager
	notifier     adapter.WebhookNotifier
	appID        string
	logger       zerolog.Logger
}

func NewReceiptUseCase(
	adapters map[model.Platform]adapter.StoreAdapter,
	products repository.ProductRepository,
	subscribers repository.SubscriberRepository,
	purchases repository.PurchaseRepository,
	subs repository.SubscriptionRepository,
	entitlements EntitlementUseCase,
	txm repository.TransactionManager,
	notifier adapter.WebhookNotifier,
	appID string,
	logger *zerolog.Logger,
) *receiptUC {
	return &receiptUC{
		adapters:     adapters,
		products:     products,
		subscribers:  subscribers,
		purchases:    purchases,
		subs:         subs,
		entitlements: entitlements,
		txm:          txm,
		notifier:     notifier,
		appID:        appID,
		logger:       logger.With().Str("component", "receipt_uc").Logger(),
	}
}

func (u *receiptUC) Validate(ctx context.Context, req ValidateReceiptRequest) (*SubscriberSnapshot, error) {
	defer logging.TraceDuration(&u.logger, "ReceiptUC.Validate")()
	if req.AppUserID == "" {
		return nil, domain.ErrInvalidArgument
	}
	ctx = logging.WithAppUserID(ctx, req.AppUserID)
	store, ok := u.adapters[req.Platform]
	if !ok {
		return nil, domain.ErrInvalidArgument
	}

	t, err := store.FetchTransaction(ctx, adapter.TransactionRef{
		TransactionID:  req.TransactionID,
		StoreProductID: req.StoreProductID,
		PurchaseToken:  req.PurchaseToken,
	})
	if err != nil {
		metrics.IncReceiptValidation(string(req.Platform), validationOutcome(err))
		return nil, err
	}

	product, err := u.products.FindByStoreProductID(ctx, repository.NoTX, u.appID, t.Platform, t.StoreProductID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncReceiptValidation(string(req.Platform), "unrecognized")
			return nil, domain.ErrProductNotRecognized
		}
		metrics.IncReceiptValidation(string(req.Platform), "error")
		return nil, err
	}

	subscriber, err := u.ensureSubscriber(ctx, req.AppUserID)
	if err != nil {
		metrics.IncReceiptValidation(string(req.Platform), "error")
		return nil, err
	}
	ctx = logging.WithSubscriberID(ctx, subscriber.ID)

	if err := u.processTransaction(ctx, subscriber, product, t); err != nil {
		metrics.IncReceiptValidation(string(req.Platform), "error")
		return nil, err
	}

	metrics.IncReceiptValidation(string(req.Platform), "ok")
	logging.With(ctx, &u.logger).Info().
		Str("transaction_id", t.TransactionID).
		Str("product_id", product.ID).
		Msg("receipt validated")
	return u.Snapshot(ctx, subscriber)
}

// ensureSubscriber finds the subscriber for an app user id (alias-aware) or
// creates one on first observed activity.
func (u *receiptUC) ensureSubscriber(ctx context.Context, appUserID string) (*model.Subscriber, error) {
	subscriber, err := u.subscribers.FindByAppUser(ctx, repository.NoTX, u.appID, appUserID)
	switch {
	case err == nil:
		subscriber.Touch(time.Now())
		if err := u.subscribers.Save(ctx, repository.NoTX, subscriber); err != nil {
			return nil, err
		}
		return subscriber, nil
	case errors.Is(err, domain.ErrNotFound):
		subscriber, err = model.NewSubscriber(uuid.NewString(), u.appID, appUserID)
		if err != nil {
			return nil, err
		}
		if err := u.subscribers.Save(ctx, repository.NoTX, subscriber); err != nil {
			return nil, err
		}
		return subscriber, nil
	default:
		return nil, err
	}
}

// processTransaction applies one authoritative store transaction under the
// subscriber lock: ledger upsert, subscription state update, entitlement
// refresh. Events are collected inside the transaction and dispatched only
// after commit, so a notification is never sent for state that rolled back.
func (u *receiptUC) processTransaction(ctx context.Context, subscriber *model.Subscriber, product *model.Product, t *model.StoreTransaction) error {
	var events []*model.WebhookEvent

	err := u.txm.WithSubscriberLock(ctx, subscriber.ID, func(ctx context.Context, tx repository.Tx) error {
		events = events[:0]

		existing, err := u.purchases.FindByStoreTransactionID(ctx, tx, t.Platform, t.TransactionID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		newPurchase := existing == nil

		purchase, err := model.NewPurchaseFromTransaction(uuid.NewString(), subscriber.ID, product.ID, t)
		if err != nil {
			return err
		}
		if existing != nil {
			purchase.ID = existing.ID
			purchase.CreatedAt = existing.CreatedAt
		}
		if err := u.purchases.Upsert(ctx, tx, purchase); err != nil {
			return err
		}

		if newPurchase && purchase.Status == model.PurchaseStatusCompleted && !product.IsSubscription() {
			events = append(events, u.event(model.EventPurchaseCompleted, subscriber, map[string]any{
				"productId":     product.ID,
				"transactionId": t.TransactionID,
			}))
		}
		if existing != nil && existing.Status == model.PurchaseStatusCompleted && purchase.Status == model.PurchaseStatusRefunded {
			events = append(events, u.event(model.EventPurchaseRefunded, subscriber, map[string]any{
				"productId":     product.ID,
				"transactionId": t.TransactionID,
			}))
		}

		if product.IsSubscription() {
			subEvents, err := u.applySubscription(ctx, tx, subscriber, product, purchase, t)
			if err != nil {
				return err
			}
			events = append(events, subEvents...)
		}

		return u.entitlements.refreshTx(ctx, tx, subscriber.ID)
	})
	if err != nil {
		return err
	}

	for _, e := range events {
		u.notifier.Notify(ctx, e)
	}
	return nil
}

func (u *receiptUC) applySubscription(ctx context.Context, tx repository.Tx, subscriber *model.Subscriber, product *model.Product, purchase *model.Purchase, t *model.StoreTransaction) ([]*model.WebhookEvent, error) {
	origID := t.OriginalTransactionID
	if origID == "" {
		origID = t.TransactionID
	}

	var events []*model.WebhookEvent
	sub, err := u.subs.FindByOriginalTransactionID(ctx, tx, t.Platform, origID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		sub, err = model.NewSubscriptionFromTransaction(uuid.NewString(), subscriber.ID, product.ID, t)
		if err != nil {
			return nil, err
		}
		events = append(events, u.event(model.EventSubscriptionCreated, subscriber, u.subData(sub)))
		if sub.IsTrial {
			events = append(events, u.event(model.EventTrialStarted, subscriber, u.subData(sub)))
		}
	case err != nil:
		return nil, err
	default:
		prevStatus := sub.Status
		prevLatest := sub.LatestTransactionID
		prevAutoRenew := sub.AutoRenew
		changed := sub.ApplyTransaction(t)
		if changed {
			data := u.subData(sub)
			if sub.LatestTransactionID != prevLatest && sub.Status == model.SubscriptionStatusActive {
				events = append(events, u.event(model.EventSubscriptionRenewed, subscriber, data))
			}
			if prevAutoRenew && !sub.AutoRenew && !sub.IsTerminal() {
				events = append(events, u.event(model.EventSubscriptionCanceled, subscriber, data))
			}
			if sub.Status != prevStatus {
				switch sub.Status {
				case model.SubscriptionStatusInGracePeriod, model.SubscriptionStatusInBillingRetry:
					events = append(events, u.event(model.EventSubscriptionBillingIssue, subscriber, data))
				case model.SubscriptionStatusExpired:
					events = append(events, u.event(model.EventSubscriptionExpired, subscriber, data))
				case model.SubscriptionStatusRevoked:
					events = append(events, u.event(model.EventEntitlementRevoked, subscriber, data))
				}
			}
		}
	}

	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}
	return events, nil
}

func (u *receiptUC) Snapshot(ctx context.Context, subscriber *model.Subscriber) (*SubscriberSnapshot, error) {
	subscriptions, err := u.subs.ListActiveBySubscriber(ctx, repository.NoTX, subscriber.ID)
	if err != nil {
		return nil, err
	}
	grants, err := u.entitlements.ActiveEntitlements(ctx, subscriber.ID)
	if err != nil {
		return nil, err
	}
	oneTime, err := u.purchases.ListCompletedOneTime(ctx, repository.NoTX, subscriber.ID)
	if err != nil {
		return nil, err
	}
	return &SubscriberSnapshot{
		Subscriber:       subscriber,
		Subscriptions:    subscriptions,
		Entitlements:     grants,
		OneTimePurchases: oneTime,
	}, nil
}

func (u *receiptUC) event(typ model.WebhookEventType, subscriber *model.Subscriber, data map[string]any) *model.WebhookEvent {
	if data == nil {
		data = map[string]any{}
	}
	data["subscriberId"] = subscriber.ID
	data["appUserId"] = subscriber.AppUserID
	return &model.WebhookEvent{
		ID:        ulid.Make().String(),
		AppID:     u.appID,
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func (u *receiptUC) subData(s *model.Subscription) map[string]any {
	data := map[string]any{
		"subscriptionId":        s.ID,
		"productId":             s.ProductID,
		"originalTransactionId": s.OriginalTransactionID,
		"status":                string(s.Status),
		"autoRenew":             s.AutoRenew,
	}
	if s.ExpiresAt != nil {
		data["expiresAt"] = s.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return data
}

func validationOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_error"
	case errors.Is(err, domain.ErrMissingStoreCredentials):
		return "store_error"
	default:
		return "error"
	}
}
