package usecase

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/adapter"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/metrics"
)

// Compile-time check
var _ SweeperUseCase = (*sweeperUC)(nil)

// PassResult aggregates one sweep pass.
type PassResult struct {
	Processed int
	Errors    int
}

// SweepReport is the outcome of one full sweep.
type SweepReport struct {
	ExpiringSoon PassResult
	Expired      PassResult
	TrialEnded   PassResult
	GraceLapsed  PassResult
}

// SweeperUseCase advances time-driven subscription transitions without any
// store call. Passes are independent: a failure in one never aborts the
// others, and per-record failures are counted, not propagated.
type SweeperUseCase interface {
	Sweep(ctx context.Context) *SweepReport
}

type sweeperUC struct {
	subs        repository.SubscriptionRepository
	grants      repository.SubscriberEntitlementRepository
	subscribers repository.SubscriberRepository
	txm         repository.TransactionManager
	notifier    adapter.WebhookNotifier
	appID       string
	lookahead   time.Duration
	logger      zerolog.Logger
}

func NewSweeperUseCase(
	subs repository.SubscriptionRepository,
	grants repository.SubscriberEntitlementRepository,
	subscribers repository.SubscriberRepository,
	txm repository.TransactionManager,
	notifier adapter.WebhookNotifier,
	appID string,
	lookahead time.Duration,
	logger *zerolog.Logger,
) *sweeperUC {
	return &sweeperUC{
		subs:        subs,
		grants:      grants,
		subscribers: subscribers,
		txm:         txm,
		notifier:    notifier,
		appID:       appID,
		lookahead:   lookahead,
		logger:      logger.With().Str("component", "sweeper_uc").Logger(),
	}
}

func (u *sweeperUC) Sweep(ctx context.Context) *SweepReport {
	now := time.Now()
	report := &SweepReport{
		ExpiringSoon: u.sweepExpiringSoon(ctx, now),
		Expired:      u.sweepExpired(ctx, now),
		TrialEnded:   u.sweepEndedTrials(ctx, now),
		GraceLapsed:  u.sweepLapsedGracePeriods(ctx, now),
	}
	u.logger.Info().
		Int("expiring_soon", report.ExpiringSoon.Processed).
		Int("expired", report.Expired.Processed).
		Int("trials_ended", report.TrialEnded.Processed).
		Int("grace_lapsed", report.GraceLapsed.Processed).
		Int("errors", report.ExpiringSoon.Errors+report.Expired.Errors+report.TrialEnded.Errors+report.GraceLapsed.Errors).
		Msg("sweep finished")
	return report
}

// sweepExpiringSoon is informational: no state change, one reminder event
// per subscription inside the lookahead window.
func (u *sweeperUC) sweepExpiringSoon(ctx context.Context, now time.Time) PassResult {
	const pass = "expiring_soon"
	var res PassResult
	candidates, err := u.subs.FindExpiringSoon(ctx, repository.NoTX, now, u.lookahead)
	if err != nil {
		u.logger.Error().Err(err).Str("pass", pass).Msg("pass selector failed")
		metrics.IncSweeperPassError(pass)
		res.Errors++
		return res
	}
	for _, s := range candidates {
		if err := u.emitForSubscription(ctx, s, model.EventSubscriptionExpiring); err != nil {
			res.Errors++
			metrics.IncSweeperPassError(pass)
			continue
		}
		res.Processed++
	}
	metrics.IncSweeperTransitions(pass, res.Processed)
	return res
}

func (u *sweeperUC) sweepExpired(ctx context.Context, now time.Time) PassResult {
	const pass = "expired"
	var res PassResult
	candidates, err := u.subs.FindExpired(ctx, repository.NoTX, now)
	if err != nil {
		u.logger.Error().Err(err).Str("pass", pass).Msg("pass selector failed")
		metrics.IncSweeperPassError(pass)
		res.Errors++
		return res
	}
	for _, s := range candidates {
		moved, err := u.expireOne(ctx, s)
		if err != nil {
			u.logger.Error().Err(err).Str("subscription_id", s.ID).Str("pass", pass).Msg("transition failed")
			metrics.IncSweeperPassError(pass)
			res.Errors++
			continue
		}
		if moved {
			res.Processed++
		}
	}
	metrics.IncSweeperTransitions(pass, res.Processed)
	return res
}

// expireOne transitions a subscription to expired and deactivates its
// grants in one transaction. The guarded UPDATE makes a concurrent renewal
// or a re-run a no-op.
func (u *sweeperUC) expireOne(ctx context.Context, s *model.Subscription) (bool, error) {
	var moved bool
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		moved, err = u.subs.TransitionStatus(ctx, tx, s.ID, s.Status, model.SubscriptionStatusExpired)
		if err != nil || !moved {
			return err
		}
		_, err = u.grants.DeactivateBySubscription(ctx, tx, s.ID)
		return err
	})
	if err != nil || !moved {
		return false, err
	}
	_ = u.emitForSubscription(ctx, s, model.EventSubscriptionExpired)
	return true, nil
}

func (u *sweeperUC) sweepEndedTrials(ctx context.Context, now time.Time) PassResult {
	const pass = "trial_ended"
	var res PassResult
	candidates, err := u.subs.FindEndedTrials(ctx, repository.NoTX, now)
	if err != nil {
		u.logger.Error().Err(err).Str("pass", pass).Msg("pass selector failed")
		metrics.IncSweeperPassError(pass)
		res.Errors++
		return res
	}
	for _, s := range candidates {
		var moved bool
		var event model.WebhookEventType
		if s.AutoRenew {
			// Trial ended with renewal on: conversion to paid, stays active.
			moved, err = u.subs.ClearTrialFlag(ctx, repository.NoTX, s.ID)
			event = model.EventTrialConverted
		} else {
			moved, err = u.expireOne(ctx, s)
			event = model.EventTrialExpired
		}
		if err != nil {
			u.logger.Error().Err(err).Str("subscription_id", s.ID).Str("pass", pass).Msg("transition failed")
			metrics.IncSweeperPassError(pass)
			res.Errors++
			continue
		}
		if moved {
			res.Processed++
			_ = u.emitForSubscription(ctx, s, event)
		}
	}
	metrics.IncSweeperTransitions(pass, res.Processed)
	return res
}

func (u *sweeperUC) sweepLapsedGracePeriods(ctx context.Context, now time.Time) PassResult {
	const pass = "grace_lapsed"
	var res PassResult
	candidates, err := u.subs.FindLapsedGracePeriods(ctx, repository.NoTX, now)
	if err != nil {
		u.logger.Error().Err(err).Str("pass", pass).Msg("pass selector failed")
		metrics.IncSweeperPassError(pass)
		res.Errors++
		return res
	}
	for _, s := range candidates {
		// Entitlements stay active in billing retry; only the status moves.
		moved, err := u.subs.TransitionStatus(ctx, repository.NoTX, s.ID, model.SubscriptionStatusInGracePeriod, model.SubscriptionStatusInBillingRetry)
		if err != nil {
			u.logger.Error().Err(err).Str("subscription_id", s.ID).Str("pass", pass).Msg("transition failed")
			metrics.IncSweeperPassError(pass)
			res.Errors++
			continue
		}
		if moved {
			res.Processed++
			_ = u.emitForSubscription(ctx, s, model.EventSubscriptionBillingIssue)
		}
	}
	metrics.IncSweeperTransitions(pass, res.Processed)
	return res
}

func (u *sweeperUC) emitForSubscription(ctx context.Context, s *model.Subscription, typ model.WebhookEventType) error {
	subscriber, err := u.subscribers.FindByID(ctx, repository.NoTX, s.SubscriberID)
	if err != nil {
		return err
	}
	data := map[string]any{
		"subscriberId":          subscriber.ID,
		"appUserId":             subscriber.AppUserID,
		"subscriptionId":        s.ID,
		"productId":             s.ProductID,
		"originalTransactionId": s.OriginalTransactionID,
	}
	if s.ExpiresAt != nil {
		data["expiresAt"] = s.ExpiresAt.UTC().Format(time.RFC3339)
	}
	u.notifier.Notify(ctx, &model.WebhookEvent{
		ID:        ulid.Make().String(),
		AppID:     u.appID,
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	})
	return nil
}
