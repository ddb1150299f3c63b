package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/metrics"
	red "github.com/smcroissant/croissantpay-sub000/internal/infra/redis"
)

var _ repository.ProductRepository = (*productRepoCacheDecorator)(nil)

// productRepoCacheDecorator caches catalog reads in Redis. The catalog is
// small and nearly static but sits on the hot path of every receipt
// validation, so the product-by-store-id lookup is the one worth caching.
type productRepoCacheDecorator struct {
	inner repository.ProductRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewProductRepoCacheDecorator(inner repository.ProductRepository, cache red.RedisClient) repository.ProductRepository {
	return &productRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   1 * time.Hour,
	}
}

func (d *productRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Product, error) {
	key := fmt.Sprintf("product:%s", id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		metrics.IncCacheRequest("product", "hit")
		var p model.Product
		if json.Unmarshal([]byte(val), &p) == nil {
			return &p, nil
		}
	}

	metrics.IncCacheRequest("product", "miss")
	p, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if p != nil {
		bytes, _ := json.Marshal(p)
		d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return p, nil
}

func (d *productRepoCacheDecorator) FindByStoreProductID(ctx context.Context, tx repository.Tx, appID string, platform model.Platform, storeProductID string) (*model.Product, error) {
	key := fmt.Sprintf("product:store:%s:%s:%s", appID, platform, storeProductID)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		metrics.IncCacheRequest("product_store", "hit")
		var p model.Product
		if json.Unmarshal([]byte(val), &p) == nil {
			return &p, nil
		}
	}

	metrics.IncCacheRequest("product_store", "miss")
	p, err := d.inner.FindByStoreProductID(ctx, tx, appID, platform, storeProductID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		bytes, _ := json.Marshal(p)
		d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return p, nil
}

// Writes invalidate both keys a product can be cached under.
func (d *productRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, p *model.Product) error {
	d.cache.Del(ctx, fmt.Sprintf("product:%s", p.ID))
	d.cache.Del(ctx, fmt.Sprintf("product:store:%s:%s:%s", p.AppID, p.Platform, p.StoreProductID))
	d.cache.Del(ctx, fmt.Sprintf("products:app:%s", p.AppID))
	return d.inner.Save(ctx, tx, p)
}

func (d *productRepoCacheDecorator) ListByApp(ctx context.Context, tx repository.Tx, appID string) ([]*model.Product, error) {
	key := fmt.Sprintf("products:app:%s", appID)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		metrics.IncCacheRequest("product_list", "hit")
		var ps []*model.Product
		if json.Unmarshal([]byte(val), &ps) == nil {
			return ps, nil
		}
	}

	metrics.IncCacheRequest("product_list", "miss")
	ps, err := d.inner.ListByApp(ctx, tx, appID)
	if err != nil {
		return nil, err
	}
	if len(ps) > 0 {
		bytes, _ := json.Marshal(ps)
		d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return ps, nil
}
