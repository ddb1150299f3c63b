package adapter

import (
	"context"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
)

// WebhookNotifier delivers subscriber-visible events to the owning app.
// Delivery is at-least-once and fire-and-continue: Notify enqueues and
// returns, it never blocks the triggering request or sweep on network I/O.
// With no callback URL configured every Notify is a silent no-op.
type WebhookNotifier interface {
	Notify(ctx context.Context, event *model.WebhookEvent)
}
