package memory

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rhplus0831/risugit/internal/config"
	registrycache "github.com/rhplus0831/risugit/internal/registry/cache"
)

const defaultSize = 1 << 16

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrycache.ExistenceCache, error) {
			size := int64(defaultSize)
			if cfg := config.FromContext(ctx); cfg != nil && cfg.AssetCacheSize > 0 {
				size = cfg.AssetCacheSize
			}
			return New(size)
		},
	})
}

// Cache is a process-local existence cache holding up to size names.
type Cache struct {
	names *ristretto.Cache[string, struct{}]
}

// New returns a Cache bounded to size entries.
func New(size int64) (*Cache, error) {
	if size <= 0 {
		size = defaultSize
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return &Cache{names: c}, nil
}

func (c *Cache) Has(_ context.Context, name string) (bool, error) {
	_, ok := c.names.Get(name)
	return ok, nil
}

func (c *Cache) Mark(_ context.Context, name string) error {
	c.names.Set(name, struct{}{}, 1)
	c.names.Wait()
	return nil
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	c.names.Close()
}

var _ registrycache.ExistenceCache = (*Cache)(nil)
