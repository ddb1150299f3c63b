package repository

import (
	"context"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
)

type SubscriberRepository interface {
	// Save upserts by id.
	Save(ctx context.Context, tx Tx, s *model.Subscriber) error
	// FindByAppUser resolves an external app user id, including aliases.
	FindByAppUser(ctx context.Context, tx Tx, appID, appUserID string) (*model.Subscriber, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscriber, error)
	CountSubscribers(ctx context.Context, tx Tx) (int, error)
}
