package model

import (
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
)

type Platform string

const (
	PlatformAppStore  Platform = "app_store"
	PlatformPlayStore Platform = "play_store"
)

type ProductType string

const (
	ProductTypeConsumable    ProductType = "consumable"
	ProductTypeNonConsumable ProductType = "non_consumable"
	ProductTypeAutoRenewable ProductType = "auto_renewable"
	ProductTypeNonRenewing   ProductType = "non_renewing"
)

// Product is a store-side purchasable item. StoreProductID is the identifier
// the platform knows it by; it is immutable once transactions reference it.
type Product struct {
	ID             string // UUID
	AppID          string
	StoreProductID string
	Platform       Platform
	Type           ProductType
	DisplayName    string
	CreatedAt      time.Time
}

func NewProduct(id, appID, storeProductID string, platform Platform, typ ProductType, displayName string) (*Product, error) {
	if id == "" || appID == "" || storeProductID == "" {
		return nil, domain.ErrInvalidArgument
	}
	switch typ {
	case ProductTypeConsumable, ProductTypeNonConsumable, ProductTypeAutoRenewable, ProductTypeNonRenewing:
	default:
		return nil, domain.ErrInvalidArgument
	}
	return &Product{
		ID:             id,
		AppID:          appID,
		StoreProductID: storeProductID,
		Platform:       platform,
		Type:           typ,
		DisplayName:    displayName,
		CreatedAt:      time.Now(),
	}, nil
}

// IsSubscription reports whether purchases of this product renew over time.
func (p *Product) IsSubscription() bool {
	return p.Type == ProductTypeAutoRenewable || p.Type == ProductTypeNonRenewing
}
