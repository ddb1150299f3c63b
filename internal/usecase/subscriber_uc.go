package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
)

// Compile-time check
var _ SubscriberUseCase = (*subscriberUC)(nil)

// SubscriberUseCase is the app-backend surface for subscribers: who a
// subscriber is, what they currently hold, and id merges after login flows.
type SubscriberUseCase interface {
	GetInfo(ctx context.Context, appUserID string) (*SubscriberSnapshot, error)
	// Alias merges a historical external id onto an existing subscriber, so
	// lookups under the old id keep resolving after the app re-identifies
	// the user.
	Alias(ctx context.Context, appUserID, alias string) error
}

type subscriberUC struct {
	subscribers repository.SubscriberRepository
	receipts    ReceiptUseCase
	appID       string
	logger      zerolog.Logger
}

func NewSubscriberUseCase(subscribers repository.SubscriberRepository, receipts ReceiptUseCase, appID string, logger *zerolog.Logger) *subscriberUC {
	return &subscriberUC{
		subscribers: subscribers,
		receipts:    receipts,
		appID:       appID,
		logger:      logger.With().Str("component", "subscriber_uc").Logger(),
	}
}

// GetInfo resolves an app user id (alias-aware) to the current snapshot.
func (u *subscriberUC) GetInfo(ctx context.Context, appUserID string) (*SubscriberSnapshot, error) {
	subscriber, err := u.subscribers.FindByAppUser(ctx, repository.NoTX, u.appID, appUserID)
	if err != nil {
		return nil, err
	}
	return u.receipts.Snapshot(ctx, subscriber)
}

func (u *subscriberUC) Alias(ctx context.Context, appUserID, alias string) error {
	if alias == "" {
		return domain.ErrInvalidArgument
	}
	subscriber, err := u.subscribers.FindByAppUser(ctx, repository.NoTX, u.appID, appUserID)
	if err != nil {
		return err
	}
	// The alias must not already identify a different subscriber; merging
	// two ledgers is not something an id rename may do silently.
	if other, err := u.subscribers.FindByAppUser(ctx, repository.NoTX, u.appID, alias); err == nil {
		if other.ID != subscriber.ID {
			return domain.ErrInvalidArgument
		}
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	subscriber.AddAlias(alias)
	u.logger.Info().Str("subscriber_id", subscriber.ID).Str("alias", alias).Msg("alias recorded")
	return u.subscribers.Save(ctx, repository.NoTX, subscriber)
}
