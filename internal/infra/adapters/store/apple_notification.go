package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppleNotificationType enumerates App Store Server Notifications V2 types.
type AppleNotificationType string

const (
	AppleNotifySubscribed            AppleNotificationType = "SUBSCRIBED"
	AppleNotifyDidRenew              AppleNotificationType = "DID_RENEW"
	AppleNotifyDidFailToRenew        AppleNotificationType = "DID_FAIL_TO_RENEW"
	AppleNotifyDidChangeRenewalPref  AppleNotificationType = "DID_CHANGE_RENEWAL_PREF"
	AppleNotifyDidChangeRenewalState AppleNotificationType = "DID_CHANGE_RENEWAL_STATUS"
	AppleNotifyExpired               AppleNotificationType = "EXPIRED"
	AppleNotifyGracePeriodExpired    AppleNotificationType = "GRACE_PERIOD_EXPIRED"
	AppleNotifyOfferRedeemed         AppleNotificationType = "OFFER_REDEEMED"
	AppleNotifyPriceIncrease         AppleNotificationType = "PRICE_INCREASE"
	AppleNotifyRefund                AppleNotificationType = "REFUND"
	AppleNotifyRefundDeclined        AppleNotificationType = "REFUND_DECLINED"
	AppleNotifyRenewalExtended       AppleNotificationType = "RENEWAL_EXTENDED"
	AppleNotifyRevoke                AppleNotificationType = "REVOKE"
	AppleNotifyConsumptionRequest    AppleNotificationType = "CONSUMPTION_REQUEST"
	AppleNotifyTest                  AppleNotificationType = "TEST"
)

// AppleNotification is the decoded V2 notification envelope.
type AppleNotification struct {
	NotificationType AppleNotificationType
	Subtype          string
	NotificationUUID string
	BundleID         string
	Environment      string
	Transaction      *signedTransactionPayload
	AutoRenewEnabled *bool      // from signedRenewalInfo when present
	GraceDeadline    *time.Time // end of the billing grace window, from signedRenewalInfo
}

type appleNotificationEnvelope struct {
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	Data             struct {
		BundleID              string `json:"bundleId"`
		Environment           string `json:"environment"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
		SignedRenewalInfo     string `json:"signedRenewalInfo"`
	} `json:"data"`
	Version    string `json:"version"`
	SignedDate int64  `json:"signedDate"`
}

// DecodeAppleNotification parses a V2 notification body. Apple posts the
// envelope as {"signedPayload": "<JWS>"}; the payload and the nested
// transaction/renewal infos are all Apple-signed JWS strings.
func DecodeAppleNotification(body []byte) (*AppleNotification, error) {
	var outer struct {
		SignedPayload string `json:"signedPayload"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("parse notification body: %w", err)
	}
	if outer.SignedPayload == "" {
		return nil, errors.New("notification missing signedPayload")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(outer.SignedPayload, claims, func(token *jwt.Token) (interface{}, error) {
		return nil, nil
	})
	if token == nil {
		return nil, errors.New("parse signed payload: nil token")
	}
	if err != nil && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return nil, fmt.Errorf("parse signed payload: %w", err)
	}
	// Round-trip the claims through JSON to land on the typed envelope.
	raw, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}
	var env appleNotificationEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse notification envelope: %w", err)
	}
	if env.NotificationType == "" || env.NotificationUUID == "" {
		return nil, errors.New("notification missing type or uuid")
	}

	n := &AppleNotification{
		NotificationType: AppleNotificationType(env.NotificationType),
		Subtype:          env.Subtype,
		NotificationUUID: env.NotificationUUID,
		BundleID:         env.Data.BundleID,
		Environment:      env.Data.Environment,
	}
	if env.Data.SignedTransactionInfo != "" {
		t, err := decodeSignedTransaction(env.Data.SignedTransactionInfo)
		if err != nil {
			return nil, err
		}
		n.Transaction = t
	}
	if env.Data.SignedRenewalInfo != "" {
		if renewal, err := decodeSignedRenewalInfo(env.Data.SignedRenewalInfo); err == nil {
			enabled := renewal.AutoRenewStatus == 1
			n.AutoRenewEnabled = &enabled
			if renewal.GracePeriodExpiresDate > 0 {
				deadline := msToTime(renewal.GracePeriodExpiresDate)
				n.GraceDeadline = &deadline
			}
		}
	}
	return n, nil
}

// TransactionID returns the store transaction id the notification refers to,
// empty when the notification carries no transaction (e.g. TEST).
func (n *AppleNotification) TransactionID() string {
	if n.Transaction == nil {
		return ""
	}
	return n.Transaction.TransactionID
}

// Actionable reports whether the notification should trigger a state
// re-check against the store. Every known type is matched explicitly so a
// new store status cannot fall through a default silently; unknown types
// are re-checked, the safe direction.
func (n *AppleNotification) Actionable() bool {
	switch n.NotificationType {
	case AppleNotifySubscribed,
		AppleNotifyDidRenew,
		AppleNotifyDidFailToRenew,
		AppleNotifyDidChangeRenewalPref,
		AppleNotifyDidChangeRenewalState,
		AppleNotifyExpired,
		AppleNotifyGracePeriodExpired,
		AppleNotifyOfferRedeemed,
		AppleNotifyRefund,
		AppleNotifyRevoke,
		AppleNotifyRenewalExtended:
		return n.TransactionID() != ""
	case AppleNotifyPriceIncrease,
		AppleNotifyRefundDeclined,
		AppleNotifyConsumptionRequest,
		AppleNotifyTest:
		return false
	default:
		return n.TransactionID() != ""
	}
}

type signedRenewalInfoPayload struct {
	OriginalTransactionID  string `json:"originalTransactionId"`
	AutoRenewProductID     string `json:"autoRenewProductId"`
	AutoRenewStatus        int    `json:"autoRenewStatus"` // 1 = will renew
	ExpirationIntent       int    `json:"expirationIntent"`
	GracePeriodExpiresDate int64  `json:"gracePeriodExpiresDate"`
	IsInBillingRetryPeriod bool   `json:"isInBillingRetryPeriod"`

	jwt.RegisteredClaims
}

func decodeSignedRenewalInfo(signed string) (*signedRenewalInfoPayload, error) {
	token, err := jwt.ParseWithClaims(signed, &signedRenewalInfoPayload{}, func(token *jwt.Token) (interface{}, error) {
		return nil, nil
	})
	if token == nil {
		return nil, errors.New("parse renewal info: nil token")
	}
	if err != nil && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return nil, fmt.Errorf("parse renewal info: %w", err)
	}
	claims, ok := token.Claims.(*signedRenewalInfoPayload)
	if !ok {
		return nil, errors.New("unexpected renewal info claims")
	}
	return claims, nil
}
