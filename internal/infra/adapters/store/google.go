package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/smcroissant/croissantpay-sub000/internal/config"
	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/adapter"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/metrics"
)

var _ adapter.StoreAdapter = (*PlayStoreAdapter)(nil)

// PlayStoreAdapter implements adapter.StoreAdapter against the Google Play
// Developer API (androidpublisher v3) with a service account credential.
type PlayStoreAdapter struct {
	packageName string
	svc         *androidpublisher.Service
	logger      zerolog.Logger
}

func NewPlayStoreAdapter(ctx context.Context, cfg config.GoogleConfig, packageName string, logger *zerolog.Logger) (*PlayStoreAdapter, error) {
	creds := cfg.Credentials()
	if len(creds) == 0 || packageName == "" {
		// Deployment without Play Store support; FetchTransaction reports
		// missing credentials instead of failing startup.
		return &PlayStoreAdapter{packageName: packageName, logger: logger.With().Str("component", "play_store_adapter").Logger()}, nil
	}
	svc, err := androidpublisher.NewService(ctx,
		option.WithCredentialsJSON(creds),
		option.WithScopes(androidpublisher.AndroidpublisherScope),
	)
	if err != nil {
		return nil, fmt.Errorf("androidpublisher.NewService: %w", err)
	}
	return &PlayStoreAdapter{
		packageName: packageName,
		svc:         svc,
		logger:      logger.With().Str("component", "play_store_adapter").Logger(),
	}, nil
}

func (a *PlayStoreAdapter) Platform() model.Platform { return model.PlatformPlayStore }

// FetchTransaction verifies a purchase token. Subscriptions and one-time
// products live on different endpoints, so the subscription lookup runs
// first and a product-id mismatch (404) falls through to the product one.
func (a *PlayStoreAdapter) FetchTransaction(ctx context.Context, ref adapter.TransactionRef) (*model.StoreTransaction, error) {
	if a.svc == nil {
		return nil, domain.ErrMissingStoreCredentials
	}
	if ref.StoreProductID == "" || ref.PurchaseToken == "" {
		return nil, domain.ErrInvalidArgument
	}

	start := time.Now()
	t, err := a.fetchSubscription(ctx, ref)
	if isGoogleNotFound(err) {
		t, err = a.fetchProduct(ctx, ref)
	}
	metrics.ObserveStoreFetch(string(model.PlatformPlayStore), int(time.Since(start).Milliseconds()), err == nil)
	if err != nil {
		return nil, mapGoogleError(err)
	}
	return t, nil
}

func (a *PlayStoreAdapter) fetchSubscription(ctx context.Context, ref adapter.TransactionRef) (*model.StoreTransaction, error) {
	resp, err := a.svc.Purchases.Subscriptions.Get(a.packageName, ref.StoreProductID, ref.PurchaseToken).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	start := msToTime(resp.StartTimeMillis)
	expiry := msToTime(resp.ExpiryTimeMillis)

	t := &model.StoreTransaction{
		Platform:              model.PlatformPlayStore,
		TransactionID:         resp.OrderId,
		OriginalTransactionID: baseOrderID(resp.OrderId),
		StoreProductID:        ref.StoreProductID,
		PurchaseDate:          start,
		OriginalPurchaseDate:  start,
		AutoRenewEnabled:      resp.AutoRenewing,
		Environment:           model.EnvironmentProduction,
	}
	if resp.ExpiryTimeMillis > 0 {
		t.ExpiresDate = &expiry
	}
	// purchaseType 0 marks a test (license-tester) purchase.
	if resp.PurchaseType != nil && *resp.PurchaseType == 0 {
		t.Environment = model.EnvironmentSandbox
	}
	// PaymentState: 0 pending, 1 received, 2 free trial, 3 deferred.
	if resp.PaymentState != nil && *resp.PaymentState == 2 {
		t.IsTrialPeriod = true
	}
	if resp.PriceAmountMicros > 0 {
		cents := resp.PriceAmountMicros / 10000
		t.PriceCents = &cents
		t.Currency = resp.PriceCurrencyCode
	}
	if resp.IntroductoryPriceInfo != nil {
		t.IsIntroOfferPeriod = true
	}

	switch {
	case resp.CancelReason == 1 && resp.UserCancellationTimeMillis == 0:
		// System-revoked without a user cancellation timestamp.
		t.Status = model.StoreStatusRevoked
	case resp.ExpiryTimeMillis > 0 && expiry.After(now):
		if resp.AutoRenewing && resp.PaymentState != nil && *resp.PaymentState == 0 {
			// Renewal charge pending with the expiry pushed out: billing
			// grace, and the extended expiry is the grace deadline.
			t.Status = model.StoreStatusGracePeriod
			t.GracePeriodExpiresAt = &expiry
		} else {
			t.Status = model.StoreStatusActive
		}
	case resp.AutoRenewing && resp.PaymentState != nil && *resp.PaymentState == 0:
		// Past expiry but still renewing with a pending payment: billing retry.
		t.Status = model.StoreStatusBillingRetry
	default:
		t.Status = model.StoreStatusExpired
	}

	if resp.AcknowledgementState == 0 {
		if err := a.acknowledgeSubscription(ctx, ref); err != nil {
			a.logger.Warn().Err(err).Str("product_id", ref.StoreProductID).Msg("subscription acknowledge failed")
		}
	}

	raw, _ := json.Marshal(resp)
	t.RawPayload = raw
	return t, nil
}

func (a *PlayStoreAdapter) fetchProduct(ctx context.Context, ref adapter.TransactionRef) (*model.StoreTransaction, error) {
	resp, err := a.svc.Purchases.Products.Get(a.packageName, ref.StoreProductID, ref.PurchaseToken).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	purchase := msToTime(resp.PurchaseTimeMillis)
	t := &model.StoreTransaction{
		Platform:             model.PlatformPlayStore,
		TransactionID:        resp.OrderId,
		StoreProductID:       ref.StoreProductID,
		PurchaseDate:         purchase,
		OriginalPurchaseDate: purchase,
		Environment:          model.EnvironmentProduction,
	}
	if resp.PurchaseType != nil && *resp.PurchaseType == 0 {
		t.Environment = model.EnvironmentSandbox
	}
	// purchaseState 0 purchased, 1 canceled, 2 pending.
	switch resp.PurchaseState {
	case 1:
		t.Status = model.StoreStatusRevoked
	default:
		t.Status = model.StoreStatusNone
	}

	if resp.AcknowledgementState == 0 {
		if err := a.acknowledgeProduct(ctx, ref); err != nil {
			a.logger.Warn().Err(err).Str("product_id", ref.StoreProductID).Msg("product acknowledge failed")
		}
	}

	raw, _ := json.Marshal(resp)
	t.RawPayload = raw
	return t, nil
}

// Google requires acknowledging every purchase within three days or it is
// auto-refunded. Acknowledge failures are logged, not fatal: the next fetch
// retries.
func (a *PlayStoreAdapter) acknowledgeSubscription(ctx context.Context, ref adapter.TransactionRef) error {
	req := &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}
	return a.svc.Purchases.Subscriptions.Acknowledge(a.packageName, ref.StoreProductID, ref.PurchaseToken, req).
		Context(ctx).
		Do()
}

func (a *PlayStoreAdapter) acknowledgeProduct(ctx context.Context, ref adapter.TransactionRef) error {
	req := &androidpublisher.ProductPurchasesAcknowledgeRequest{}
	return a.svc.Purchases.Products.Acknowledge(a.packageName, ref.StoreProductID, ref.PurchaseToken, req).
		Context(ctx).
		Do()
}

// baseOrderID strips the renewal suffix Google appends to order ids
// (GPA.xxxx-xxxx-xxxx-xxxxx..0, ..1, ...), yielding a stable id across
// renewals of the same subscription. The suffix is a double dot followed
// by the renewal sequence number; the initial purchase carries no suffix.
func baseOrderID(orderID string) string {
	i := strings.LastIndexByte(orderID, '.')
	if i <= 0 || orderID[i-1] != '.' || !allDigits(orderID[i+1:]) {
		return orderID
	}
	return orderID[:i-1]
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isGoogleNotFound(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(*googleapi.Error); ok {
		return apiErr.Code == 404
	}
	return false
}

func mapGoogleError(err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch {
		case apiErr.Code == 404 || apiErr.Code == 400:
			return domain.ErrTransactionNotFound
		case apiErr.Code == 401 || apiErr.Code == 403:
			return domain.ErrMissingStoreCredentials
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
