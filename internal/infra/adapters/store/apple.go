package store

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/smcroissant/croissantpay-sub000/internal/config"
	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/adapter"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/metrics"
)

var _ adapter.StoreAdapter = (*AppStoreAdapter)(nil)

const (
	appStoreProductionBase = "https://api.storekit.itunes.apple.com"
	appStoreSandboxBase    = "https://api.storekit-sandbox.itunes.apple.com"
)

// AppStoreAdapter implements adapter.StoreAdapter against the App Store
// Server API. Authentication is a short-lived ES256 JWT signed with the
// App Store Connect API key.
type AppStoreAdapter struct {
	issuerID    string
	keyID       string
	privateKey  []byte
	bundleID    string
	sandboxOnly bool
	client      *http.Client
	logger      zerolog.Logger
}

func NewAppStoreAdapter(cfg config.AppleConfig, bundleID string, logger *zerolog.Logger) *AppStoreAdapter {
	return &AppStoreAdapter{
		issuerID:    cfg.IssuerID,
		keyID:       cfg.KeyID,
		privateKey:  cfg.ApplePrivateKey(),
		bundleID:    bundleID,
		sandboxOnly: cfg.Sandbox,
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      logger.With().Str("component", "app_store_adapter").Logger(),
	}
}

func (a *AppStoreAdapter) Platform() model.Platform { return model.PlatformAppStore }

// FetchTransaction looks the transaction up in production first and falls
// back to sandbox, since a sandbox receipt sent to production yields a
// not-found rather than an error we could branch on earlier.
func (a *AppStoreAdapter) FetchTransaction(ctx context.Context, ref adapter.TransactionRef) (*model.StoreTransaction, error) {
	if a.issuerID == "" || a.keyID == "" || len(a.privateKey) == 0 {
		return nil, domain.ErrMissingStoreCredentials
	}
	if ref.TransactionID == "" {
		return nil, domain.ErrInvalidArgument
	}

	token, err := a.signToken()
	if err != nil {
		return nil, fmt.Errorf("sign app store token: %w", err)
	}

	start := time.Now()
	base := appStoreProductionBase
	var signed *signedTransactionPayload
	if a.sandboxOnly {
		base = appStoreSandboxBase
		signed, err = a.fetchWithRetry(ctx, base, ref.TransactionID, token)
	} else {
		signed, err = a.fetchWithRetry(ctx, base, ref.TransactionID, token)
		if errors.Is(err, domain.ErrTransactionNotFound) {
			a.logger.Debug().Str("transaction_id", ref.TransactionID).Msg("not in production, trying sandbox")
			base = appStoreSandboxBase
			signed, err = a.fetchWithRetry(ctx, base, ref.TransactionID, token)
		}
	}
	metrics.ObserveStoreFetch(string(model.PlatformAppStore), int(time.Since(start).Milliseconds()), err == nil)
	if err != nil {
		return nil, err
	}
	t, err := signed.normalize()
	if err != nil {
		return nil, err
	}
	// For subscriptions, the per-transaction payload says nothing about the
	// renewal state; resolve it from the subscription statuses endpoint.
	if t.ExpiresDate != nil && t.OriginalTransactionID != "" && t.Status != model.StoreStatusRevoked {
		if err := a.resolveSubscriptionStatus(ctx, base, token, t); err != nil {
			a.logger.Warn().Err(err).Str("original_transaction_id", t.OriginalTransactionID).
				Msg("subscription status lookup failed, keeping expiry-derived status")
		}
	}
	return t, nil
}

// resolveSubscriptionStatus overlays the store-reported subscription status
// and auto-renew flag onto an already normalized transaction.
func (a *AppStoreAdapter) resolveSubscriptionStatus(ctx context.Context, base, token string, t *model.StoreTransaction) error {
	endpoint := base + "/inApps/v1/subscriptions/" + t.OriginalTransactionID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("app store returned %d", resp.StatusCode)
	}

	var statuses subscriptionStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return fmt.Errorf("parse status response: %w", err)
	}
	for _, group := range statuses.Data {
		for _, last := range group.LastTransactions {
			if last.OriginalTransactionID != t.OriginalTransactionID {
				continue
			}
			switch last.Status {
			case 1:
				t.Status = model.StoreStatusActive
			case 2:
				t.Status = model.StoreStatusExpired
			case 3:
				t.Status = model.StoreStatusBillingRetry
			case 4:
				t.Status = model.StoreStatusGracePeriod
			case 5:
				t.Status = model.StoreStatusRevoked
			}
			if last.SignedRenewalInfo != "" {
				if renewal, err := decodeSignedRenewalInfo(last.SignedRenewalInfo); err == nil {
					t.AutoRenewEnabled = renewal.AutoRenewStatus == 1
					if renewal.GracePeriodExpiresDate > 0 {
						deadline := msToTime(renewal.GracePeriodExpiresDate)
						t.GracePeriodExpiresAt = &deadline
					}
				}
			}
			return nil
		}
	}
	return nil
}

type subscriptionStatusResponse struct {
	Data []struct {
		SubscriptionGroupIdentifier string `json:"subscriptionGroupIdentifier"`
		LastTransactions            []struct {
			OriginalTransactionID string `json:"originalTransactionId"`
			Status                int    `json:"status"`
			SignedTransactionInfo string `json:"signedTransactionInfo"`
			SignedRenewalInfo     string `json:"signedRenewalInfo"`
		} `json:"lastTransactions"`
	} `json:"data"`
}

// signToken builds the ES256 client token the App Store Server API expects.
func (a *AppStoreAdapter) signToken() (string, error) {
	key, err := parseECPrivateKey(a.privateKey)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": a.issuerID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"aud": "appstoreconnect-v1",
		"bid": a.bundleID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = a.keyID
	return token.SignedString(key)
}

func parseECPrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("invalid private key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		ec, ecErr := x509.ParseECPrivateKey(block.Bytes)
		if ecErr != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return ec, nil
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", parsed)
	}
	return key, nil
}

func (a *AppStoreAdapter) fetchWithRetry(ctx context.Context, base, transactionID, token string) (*signedTransactionPayload, error) {
	const maxRetries = 3
	baseDelay := 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		payload, retryable, err := a.doFetch(ctx, base, transactionID, token)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, lastErr)
}

func (a *AppStoreAdapter) doFetch(ctx context.Context, base, transactionID, token string) (*signedTransactionPayload, bool, error) {
	endpoint := base + "/inApps/v1/transactions/" + transactionID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, domain.ErrTransactionNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, false, domain.ErrMissingStoreCredentials
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("app store returned %d", resp.StatusCode)
	default:
		var apiErr appStoreErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.ErrorMessage != "" {
			return nil, false, fmt.Errorf("app store error %d: %s", apiErr.ErrorCode, apiErr.ErrorMessage)
		}
		return nil, false, fmt.Errorf("app store returned %d", resp.StatusCode)
	}

	var wrapper struct {
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, false, fmt.Errorf("parse transaction response: %w", err)
	}
	if wrapper.SignedTransactionInfo == "" {
		return nil, false, errors.New("response missing signedTransactionInfo")
	}
	payload, err := decodeSignedTransaction(wrapper.SignedTransactionInfo)
	if err != nil {
		return nil, false, err
	}
	return payload, false, nil
}

type appStoreErrorResponse struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// signedTransactionPayload is the claims set of a signed transaction JWS
// (both from the API response and from notification payloads).
type signedTransactionPayload struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	PurchaseDate          int64  `json:"purchaseDate"` // ms since epoch
	OriginalPurchaseDate  int64  `json:"originalPurchaseDate"`
	ExpiresDate           int64  `json:"expiresDate"`
	RevocationDate        int64  `json:"revocationDate"`
	Type                  string `json:"type"` // "Auto-Renewable Subscription", "Consumable", ...
	OfferType             int    `json:"offerType"`
	OfferDiscountType     string `json:"offerDiscountType"`
	Environment           string `json:"environment"` // "Production" | "Sandbox"
	Price                 int64  `json:"price"`       // milliunits
	Currency              string `json:"currency"`

	jwt.RegisteredClaims
}

// decodeSignedTransaction extracts the claims from an Apple-signed JWS
// without verifying the signature; the payload was fetched over TLS from
// Apple directly so the transport already authenticates it.
func decodeSignedTransaction(signed string) (*signedTransactionPayload, error) {
	token, err := jwt.ParseWithClaims(signed, &signedTransactionPayload{}, func(token *jwt.Token) (interface{}, error) {
		return nil, nil
	})
	if token == nil {
		return nil, errors.New("parse signed transaction: nil token")
	}
	if err != nil && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return nil, fmt.Errorf("parse signed transaction: %w", err)
	}
	claims, ok := token.Claims.(*signedTransactionPayload)
	if !ok {
		return nil, errors.New("unexpected signed transaction claims")
	}
	return claims, nil
}

// normalize maps the Apple payload into the platform-neutral shape.
func (p *signedTransactionPayload) normalize() (*model.StoreTransaction, error) {
	if p.TransactionID == "" {
		return nil, domain.ErrTransactionNotFound
	}
	t := &model.StoreTransaction{
		Platform:              model.PlatformAppStore,
		TransactionID:         p.TransactionID,
		OriginalTransactionID: p.OriginalTransactionID,
		StoreProductID:        p.ProductID,
		PurchaseDate:          msToTime(p.PurchaseDate),
		OriginalPurchaseDate:  msToTime(p.OriginalPurchaseDate),
		Currency:              p.Currency,
		Environment:           model.EnvironmentProduction,
	}
	if p.Environment == "Sandbox" {
		t.Environment = model.EnvironmentSandbox
	}
	if p.ExpiresDate > 0 {
		exp := msToTime(p.ExpiresDate)
		t.ExpiresDate = &exp
	}
	if p.Price > 0 {
		// Apple reports price in milliunits of the currency.
		cents := p.Price / 10
		t.PriceCents = &cents
	}
	// offerType 1 = introductory offer, which covers free trials; Apple marks
	// a free trial with offerDiscountType FREE_TRIAL.
	if p.OfferType == 1 {
		t.IsIntroOfferPeriod = true
		if p.OfferDiscountType == "FREE_TRIAL" {
			t.IsTrialPeriod = true
		}
	}

	switch {
	case p.RevocationDate > 0:
		t.Status = model.StoreStatusRevoked
	case t.ExpiresDate == nil:
		t.Status = model.StoreStatusNone
	case t.ExpiresDate.After(time.Now()):
		t.Status = model.StoreStatusActive
		t.AutoRenewEnabled = true
	default:
		t.Status = model.StoreStatusExpired
	}

	raw, _ := json.Marshal(p)
	t.RawPayload = raw
	return t, nil
}

func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond)).UTC()
}
