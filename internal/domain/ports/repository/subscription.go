package repository

import (
	"context"
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
)

type SubscriptionRepository interface {
	// Save upserts keyed on (platform, original transaction id).
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByOriginalTransactionID(ctx context.Context, tx Tx, platform model.Platform, originalTransactionID string) (*model.Subscription, error)
	ListBySubscriber(ctx context.Context, tx Tx, subscriberID string) ([]*model.Subscription, error)
	ListActiveBySubscriber(ctx context.Context, tx Tx, subscriberID string) ([]*model.Subscription, error)

	// Sweep selectors. Each returns the candidates for one sweeper pass.
	FindExpiringSoon(ctx context.Context, tx Tx, now time.Time, lookahead time.Duration) ([]*model.Subscription, error)
	FindExpired(ctx context.Context, tx Tx, now time.Time) ([]*model.Subscription, error)
	FindEndedTrials(ctx context.Context, tx Tx, now time.Time) ([]*model.Subscription, error)
	FindLapsedGracePeriods(ctx context.Context, tx Tx, now time.Time) ([]*model.Subscription, error)

	// TransitionStatus applies a guarded status change
	// (UPDATE ... WHERE status = from) and reports whether a row moved, so a
	// re-run after partial failure cannot double-apply a transition.
	TransitionStatus(ctx context.Context, tx Tx, id string, from, to model.SubscriptionStatus) (bool, error)
	// ClearTrialFlag is the guarded trial→paid conversion.
	ClearTrialFlag(ctx context.Context, tx Tx, id string) (bool, error)

	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}
