//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
)

func TestProductRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	product := &model.Product{
		ID:             "prod-123",
		AppID:          "app-1",
		StoreProductID: "premium_monthly",
		Platform:       model.PlatformAppStore,
		Type:           model.ProductTypeAutoRenewable,
		DisplayName:    "Premium Monthly",
	}
	productJSON, _ := json.Marshal(product)

	t.Run("FindByStoreProductID should return from cache on hit", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return string(productJSON), nil // Simulate cache hit
			},
		}
		innerRepoCalled := false
		mockInnerRepo := &mockInnerProductRepo{
			FindByStoreProductIDFunc: func(ctx context.Context, tx repository.Tx, appID string, platform model.Platform, storeProductID string) (*model.Product, error) {
				innerRepoCalled = true // This should not be called
				return nil, nil
			},
		}

		decorator := NewProductRepoCacheDecorator(mockInnerRepo, mockRedis)

		result, err := decorator.FindByStoreProductID(ctx, nil, "app-1", model.PlatformAppStore, "premium_monthly")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if innerRepoCalled {
			t.Error("inner repository should not be called on a cache hit")
		}
		if result == nil || result.ID != "prod-123" {
			t.Error("did not return the correct product from cache")
		}
	})

	t.Run("FindByStoreProductID should fall through and populate on miss", func(t *testing.T) {
		var setKey string
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return "", errors.New("redis: nil") // Simulate cache miss
			},
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				setKey = key
				return nil
			},
		}
		mockInnerRepo := &mockInnerProductRepo{
			FindByStoreProductIDFunc: func(ctx context.Context, tx repository.Tx, appID string, platform model.Platform, storeProductID string) (*model.Product, error) {
				return product, nil
			},
		}

		decorator := NewProductRepoCacheDecorator(mockInnerRepo, mockRedis)

		result, err := decorator.FindByStoreProductID(ctx, nil, "app-1", model.PlatformAppStore, "premium_monthly")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result == nil || result.ID != "prod-123" {
			t.Error("did not return the product from the inner repository")
		}
		if setKey != "product:store:app-1:app_store:premium_monthly" {
			t.Errorf("cached under wrong key: %q", setKey)
		}
	})

	t.Run("miss on an unknown product does not cache the error", func(t *testing.T) {
		setCalled := false
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return "", errors.New("redis: nil")
			},
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				setCalled = true
				return nil
			},
		}
		mockInnerRepo := &mockInnerProductRepo{
			FindByStoreProductIDFunc: func(ctx context.Context, tx repository.Tx, appID string, platform model.Platform, storeProductID string) (*model.Product, error) {
				return nil, errors.New("not found")
			},
		}

		decorator := NewProductRepoCacheDecorator(mockInnerRepo, mockRedis)

		if _, err := decorator.FindByStoreProductID(ctx, nil, "app-1", model.PlatformAppStore, "unknown"); err == nil {
			t.Fatal("expected the inner error to surface")
		}
		if setCalled {
			t.Error("a lookup failure must not be written to the cache")
		}
	})

	t.Run("Save should invalidate the cache", func(t *testing.T) {
		var deletedKeys []string
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				deletedKeys = append(deletedKeys, keys...)
				return nil
			},
		}
		mockInnerRepo := &mockInnerProductRepo{
			SaveFunc: func(ctx context.Context, tx repository.Tx, p *model.Product) error {
				return nil
			},
		}

		decorator := NewProductRepoCacheDecorator(mockInnerRepo, mockRedis)

		if err := decorator.Save(ctx, nil, product); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(deletedKeys) != 3 {
			t.Fatalf("expected 3 keys to be deleted, but got %d", len(deletedKeys))
		}
	})
}
