package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/cartsync/models"
)

const (
	defaultCatalogTTL = 5 * time.Minute

	cacheNumCounters = 1e5
	cacheMaxCost     = 1 << 14
	cacheBufferItems = 64
)

var _ Catalog = (*CachedCatalog)(nil)

// CachedCatalog keeps product snapshots for a short TTL and collapses
// concurrent misses for the same product into one upstream call.
type CachedCatalog struct {
	upstream Catalog
	cache    *ristretto.Cache
	group    singleflight.Group
	ttl      time.Duration
	logger   *zap.Logger
}

func NewCachedCatalog(upstream Catalog, ttl time.Duration, logger *zap.Logger) (*CachedCatalog, error) {
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog cache: %w", err)
	}
	return &CachedCatalog{
		upstream: upstream,
		cache:    cache,
		ttl:      ttl,
		logger:   logger,
	}, nil
}

func productKey(productID int64) string {
	return fmt.Sprintf("product:%d", productID)
}

func (c *CachedCatalog) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	key := productKey(productID)
	if cached, ok := c.cache.Get(key); ok {
		if product, ok := cached.(*models.Product); ok {
			snapshot := *product
			return &snapshot, nil
		}
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		product, err := c.upstream.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		c.store(product)
		return product, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("Product lookup shared", zap.Int64("product_id", productID))
	}

	snapshot := *v.(*models.Product)
	return &snapshot, nil
}

// ListProducts always goes upstream and warms the cache with the result.
func (c *CachedCatalog) ListProducts(ctx context.Context) ([]*models.Product, error) {
	products, err := c.upstream.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	for _, product := range products {
		c.store(product)
	}
	return products, nil
}

// Invalidate drops the given products, or everything when none is given.
func (c *CachedCatalog) Invalidate(productIDs ...int64) {
	if len(productIDs) == 0 {
		c.cache.Clear()
		return
	}
	for _, productID := range productIDs {
		c.cache.Del(productKey(productID))
	}
}

func (c *CachedCatalog) Close() {
	c.cache.Close()
}

func (c *CachedCatalog) store(product *models.Product) {
	snapshot := *product
	if !c.cache.SetWithTTL(productKey(product.ID), &snapshot, 1, c.ttl) {
		c.logger.Debug("Product snapshot not admitted to cache", zap.Int64("product_id", product.ID))
		return
	}
	c.cache.Wait()
}
