//go:build !integration

package postgres

import (
	"context"
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
	red "github.com/smcroissant/croissantpay-sub000/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerProductRepo mocks the database repository that the decorator wraps.
type mockInnerProductRepo struct {
	SaveFunc                 func(ctx context.Context, tx repository.Tx, p *model.Product) error
	FindByIDFunc             func(ctx context.Context, tx repository.Tx, id string) (*model.Product, error)
	FindByStoreProductIDFunc func(ctx context.Context, tx repository.Tx, appID string, platform model.Platform, storeProductID string) (*model.Product, error)
	ListByAppFunc            func(ctx context.Context, tx repository.Tx, appID string) ([]*model.Product, error)
}

func (m *mockInnerProductRepo) Save(ctx context.Context, tx repository.Tx, p *model.Product) error {
	return m.SaveFunc(ctx, tx, p)
}
func (m *mockInnerProductRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Product, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerProductRepo) FindByStoreProductID(ctx context.Context, tx repository.Tx, appID string, platform model.Platform, storeProductID string) (*model.Product, error) {
	return m.FindByStoreProductIDFunc(ctx, tx, appID, platform, storeProductID)
}
func (m *mockInnerProductRepo) ListByApp(ctx context.Context, tx repository.Tx, appID string) ([]*model.Product, error) {
	return m.ListByAppFunc(ctx, tx, appID)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc   func(ctx context.Context, key string) (string, error)
	SetFunc   func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc   func(ctx context.Context, keys ...string) error
	PingFunc  func(ctx context.Context) error
	CloseFunc func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Close() error                   { return m.CloseFunc() }
