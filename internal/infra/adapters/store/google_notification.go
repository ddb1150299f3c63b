package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// GoogleNotificationType enumerates Real-time Developer Notification
// subscription types.
type GoogleNotificationType int

const (
	GoogleNotifyRecovered            GoogleNotificationType = 1
	GoogleNotifyRenewed              GoogleNotificationType = 2
	GoogleNotifyCanceled             GoogleNotificationType = 3
	GoogleNotifyPurchased            GoogleNotificationType = 4
	GoogleNotifyOnHold               GoogleNotificationType = 5
	GoogleNotifyInGracePeriod        GoogleNotificationType = 6
	GoogleNotifyRestarted            GoogleNotificationType = 7
	GoogleNotifyPriceChangeConfirmed GoogleNotificationType = 8
	GoogleNotifyDeferred             GoogleNotificationType = 9
	GoogleNotifyPaused               GoogleNotificationType = 10
	GoogleNotifyPauseScheduleChanged GoogleNotificationType = 11
	GoogleNotifyRevoked              GoogleNotificationType = 12
	GoogleNotifyExpired              GoogleNotificationType = 13
)

func (t GoogleNotificationType) String() string {
	switch t {
	case GoogleNotifyRecovered:
		return "SUBSCRIPTION_RECOVERED"
	case GoogleNotifyRenewed:
		return "SUBSCRIPTION_RENEWED"
	case GoogleNotifyCanceled:
		return "SUBSCRIPTION_CANCELED"
	case GoogleNotifyPurchased:
		return "SUBSCRIPTION_PURCHASED"
	case GoogleNotifyOnHold:
		return "SUBSCRIPTION_ON_HOLD"
	case GoogleNotifyInGracePeriod:
		return "SUBSCRIPTION_IN_GRACE_PERIOD"
	case GoogleNotifyRestarted:
		return "SUBSCRIPTION_RESTARTED"
	case GoogleNotifyPriceChangeConfirmed:
		return "SUBSCRIPTION_PRICE_CHANGE_CONFIRMED"
	case GoogleNotifyDeferred:
		return "SUBSCRIPTION_DEFERRED"
	case GoogleNotifyPaused:
		return "SUBSCRIPTION_PAUSED"
	case GoogleNotifyPauseScheduleChanged:
		return "SUBSCRIPTION_PAUSE_SCHEDULE_CHANGED"
	case GoogleNotifyRevoked:
		return "SUBSCRIPTION_REVOKED"
	case GoogleNotifyExpired:
		return "SUBSCRIPTION_EXPIRED"
	default:
		return fmt.Sprintf("UNKNOWN_%d", int(t))
	}
}

// GoogleNotification is a decoded Real-time Developer Notification.
type GoogleNotification struct {
	MessageID        string
	PackageName      string
	NotificationType GoogleNotificationType
	StoreProductID   string // subscriptionId or sku
	PurchaseToken    string
	IsTest           bool
}

// DecodeGoogleNotification unwraps a Pub/Sub push envelope carrying an RTDN.
func DecodeGoogleNotification(body []byte) (*GoogleNotification, error) {
	var envelope struct {
		Message struct {
			Data      string `json:"data"` // base64 RTDN
			MessageID string `json:"messageId"`
		} `json:"message"`
		Subscription string `json:"subscription"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse pubsub envelope: %w", err)
	}
	if envelope.Message.Data == "" {
		return nil, errors.New("pubsub message missing data")
	}
	decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return nil, fmt.Errorf("decode pubsub data: %w", err)
	}

	var rtdn struct {
		Version                  string `json:"version"`
		PackageName              string `json:"packageName"`
		EventTimeMillis          string `json:"eventTimeMillis"`
		SubscriptionNotification *struct {
			NotificationType int    `json:"notificationType"`
			PurchaseToken    string `json:"purchaseToken"`
			SubscriptionID   string `json:"subscriptionId"`
		} `json:"subscriptionNotification"`
		OneTimeProductNotification *struct {
			NotificationType int    `json:"notificationType"`
			PurchaseToken    string `json:"purchaseToken"`
			SKU              string `json:"sku"`
		} `json:"oneTimeProductNotification"`
		TestNotification *struct {
			Version string `json:"version"`
		} `json:"testNotification"`
	}
	if err := json.Unmarshal(decoded, &rtdn); err != nil {
		return nil, fmt.Errorf("parse rtdn: %w", err)
	}

	n := &GoogleNotification{
		MessageID:   envelope.Message.MessageID,
		PackageName: rtdn.PackageName,
	}
	switch {
	case rtdn.SubscriptionNotification != nil:
		n.NotificationType = GoogleNotificationType(rtdn.SubscriptionNotification.NotificationType)
		n.StoreProductID = rtdn.SubscriptionNotification.SubscriptionID
		n.PurchaseToken = rtdn.SubscriptionNotification.PurchaseToken
	case rtdn.OneTimeProductNotification != nil:
		n.NotificationType = GoogleNotificationType(rtdn.OneTimeProductNotification.NotificationType)
		n.StoreProductID = rtdn.OneTimeProductNotification.SKU
		n.PurchaseToken = rtdn.OneTimeProductNotification.PurchaseToken
	case rtdn.TestNotification != nil:
		n.IsTest = true
	default:
		return nil, errors.New("rtdn carries no notification")
	}
	return n, nil
}

// Actionable reports whether the notification should trigger a re-check.
// Every known type is matched explicitly (same rule as the Apple side).
func (n *GoogleNotification) Actionable() bool {
	if n.IsTest || n.PurchaseToken == "" {
		return false
	}
	switch n.NotificationType {
	case GoogleNotifyRecovered,
		GoogleNotifyRenewed,
		GoogleNotifyCanceled,
		GoogleNotifyPurchased,
		GoogleNotifyOnHold,
		GoogleNotifyInGracePeriod,
		GoogleNotifyRestarted,
		GoogleNotifyPaused,
		GoogleNotifyRevoked,
		GoogleNotifyExpired:
		return true
	case GoogleNotifyPriceChangeConfirmed,
		GoogleNotifyDeferred,
		GoogleNotifyPauseScheduleChanged:
		return false
	default:
		return true
	}
}
