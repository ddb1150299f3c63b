package model

import "time"

// WebhookEventType enumerates subscriber-visible events delivered to the
// owning application.
type WebhookEventType string

const (
	EventSubscriptionCreated      WebhookEventType = "subscription.created"
	EventSubscriptionRenewed      WebhookEventType = "subscription.renewed"
	EventSubscriptionCanceled     WebhookEventType = "subscription.canceled"
	EventSubscriptionExpired      WebhookEventType = "subscription.expired"
	EventSubscriptionExpiring     WebhookEventType = "subscription.expiring"
	EventSubscriptionBillingIssue WebhookEventType = "subscription.billing_issue"
	EventEntitlementGranted       WebhookEventType = "entitlement.granted"
	EventEntitlementRevoked       WebhookEventType = "entitlement.revoked"
	EventPurchaseCompleted        WebhookEventType = "purchase.completed"
	EventPurchaseRefunded         WebhookEventType = "purchase.refunded"
	EventTrialStarted             WebhookEventType = "trial.started"
	EventTrialConverted           WebhookEventType = "trial.converted"
	EventTrialExpired             WebhookEventType = "trial.expired"
)

// WebhookEvent is one outbound notification to the owning app. ID is a ULID
// so event ids sort by emit time.
type WebhookEvent struct {
	ID        string
	AppID     string
	Type      WebhookEventType
	Timestamp time.Time
	Data      map[string]any
}

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusProcessed DeliveryStatus = "processed"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// WebhookDelivery records the outcome of delivering one WebhookEvent.
type WebhookDelivery struct {
	ID        string // same as the event id
	AppID     string
	EventType WebhookEventType
	Status    DeliveryStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoreNotification is the append-only record of an inbound store push,
// kept for idempotency and audit. NotificationUUID dedupes redeliveries.
type StoreNotification struct {
	ID               string // UUID
	Platform         Platform
	NotificationUUID string
	Type             string
	Payload          []byte
	ReceivedAt       time.Time
}
