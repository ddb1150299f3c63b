package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/smcroissant/croissantpay-sub000/internal/config"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/adapter"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/metrics"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/worker"
)

var _ adapter.WebhookNotifier = (*HTTPNotifier)(nil)

// deliveryBody is the wire shape of an outbound webhook.
type deliveryBody struct {
	ID        string                 `json:"id"`
	Type      model.WebhookEventType `json:"type"`
	Timestamp int64                  `json:"timestamp"` // unix seconds
	AppID     string                 `json:"appId"`
	Data      map[string]any         `json:"data"`
}

// HTTPNotifier posts signed events to the configured callback URL.
// Notify enqueues onto a worker pool and returns immediately; the workers
// run the attempt/backoff loop and persist the outcome.
type HTTPNotifier struct {
	url            string
	secret         []byte
	maxAttempts    int
	attemptTimeout time.Duration
	pool           *worker.Pool
	deliveries     repository.WebhookEventRepository
	client         *http.Client
	logger         zerolog.Logger
}

func NewHTTPNotifier(cfg config.WebhookConfig, pool *worker.Pool, deliveries repository.WebhookEventRepository, logger *zerolog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		url:            cfg.URL,
		secret:         []byte(cfg.Secret),
		maxAttempts:    cfg.MaxAttempts,
		attemptTimeout: cfg.AttemptTimeout,
		pool:           pool,
		deliveries:     deliveries,
		client:         &http.Client{Timeout: cfg.AttemptTimeout},
		logger:         logger.With().Str("component", "webhook_notifier").Logger(),
	}
}

// Notify records the delivery as pending and hands it to the pool. Without
// a configured URL it is a silent no-op. A full queue drops the event: the
// delivery row stays pending and shows up in stats.
func (n *HTTPNotifier) Notify(ctx context.Context, event *model.WebhookEvent) {
	if n.url == "" {
		return
	}
	now := time.Now()
	delivery := &model.WebhookDelivery{
		ID:        event.ID,
		AppID:     event.AppID,
		EventType: event.Type,
		Status:    model.DeliveryStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := n.deliveries.SaveDelivery(ctx, repository.NoTX, delivery); err != nil {
		n.logger.Error().Err(err).Str("event_id", event.ID).Msg("record delivery")
	}

	if err := n.pool.Submit(func(taskCtx context.Context) error {
		n.deliver(taskCtx, event)
		return nil
	}); err != nil {
		metrics.IncWebhookQueueDrop()
		n.logger.Warn().Err(err).Str("event_id", event.ID).Str("type", string(event.Type)).
			Msg("webhook queue full, event dropped")
	}
}

func (n *HTTPNotifier) deliver(ctx context.Context, event *model.WebhookEvent) {
	body, err := json.Marshal(deliveryBody{
		ID:        event.ID,
		Type:      event.Type,
		Timestamp: event.Timestamp.Unix(),
		AppID:     event.AppID,
		Data:      event.Data,
	})
	if err != nil {
		n.finish(ctx, event.ID, model.DeliveryStatusFailed, 0, fmt.Sprintf("marshal: %v", err))
		return
	}
	signature := Sign(n.secret, body)

	baseDelay := 1 * time.Second
	var lastErr string
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := baseDelay * time.Duration(1<<uint(attempt-2))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				n.finish(context.Background(), event.ID, model.DeliveryStatusFailed, attempt-1, "shutdown before delivery")
				return
			}
		}

		metrics.IncWebhookAttempt()
		if err := n.attempt(ctx, body, signature); err != nil {
			lastErr = err.Error()
			n.logger.Debug().Str("event_id", event.ID).Int("attempt", attempt).Err(err).Msg("delivery attempt failed")
			continue
		}

		metrics.IncWebhookDelivery(string(model.DeliveryStatusProcessed))
		n.finish(ctx, event.ID, model.DeliveryStatusProcessed, attempt, "")
		return
	}

	metrics.IncWebhookDelivery(string(model.DeliveryStatusFailed))
	n.logger.Warn().Str("event_id", event.ID).Str("type", string(event.Type)).
		Int("attempts", n.maxAttempts).Str("last_error", lastErr).Msg("delivery exhausted")
	n.finish(ctx, event.ID, model.DeliveryStatusFailed, n.maxAttempts, lastErr)
}

func (n *HTTPNotifier) attempt(ctx context.Context, body []byte, signature string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, n.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("receiver returned %d", resp.StatusCode)
	}
	return nil
}

func (n *HTTPNotifier) finish(ctx context.Context, id string, status model.DeliveryStatus, attempts int, lastErr string) {
	if err := n.deliveries.UpdateDelivery(ctx, repository.NoTX, id, status, attempts, lastErr); err != nil {
		n.logger.Error().Err(err).Str("event_id", id).Msg("update delivery outcome")
	}
}
