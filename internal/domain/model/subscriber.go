package model

import (
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
)

// Subscriber is one end user of an app, keyed by the external id the app
// backend uses for them. Created on first observed activity; the core never
// deletes subscribers.
type Subscriber struct {
	ID          string // UUID
	AppID       string
	AppUserID   string
	Aliases     []string // historical external ids merged onto this subscriber
	Attributes  map[string]string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

func NewSubscriber(id, appID, appUserID string) (*Subscriber, error) {
	if id == "" || appID == "" || appUserID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscriber{
		ID:          id,
		AppID:       appID,
		AppUserID:   appUserID,
		Attributes:  map[string]string{},
		FirstSeenAt: now,
		LastSeenAt:  now,
	}, nil
}

// AddAlias records a historical external id. Duplicates are ignored.
func (s *Subscriber) AddAlias(appUserID string) {
	if appUserID == "" || appUserID == s.AppUserID {
		return
	}
	for _, a := range s.Aliases {
		if a == appUserID {
			return
		}
	}
	s.Aliases = append(s.Aliases, appUserID)
}

func (s *Subscriber) Touch(now time.Time) {
	if now.After(s.LastSeenAt) {
		s.LastSeenAt = now
	}
}
