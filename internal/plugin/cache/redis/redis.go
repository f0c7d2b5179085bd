package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rhplus0831/risugit/internal/config"
	registrycache "github.com/rhplus0831/risugit/internal/registry/cache"
)

// KeyPrefix namespaces existence markers. Markers never expire: an asset
// name is content addressed, so once present it stays present.
const KeyPrefix = "head_cache_"

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ExistenceCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: RISUGIT_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL)
}

// LoadFromURL creates an ExistenceCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.ExistenceCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return &existenceCache{client: client}, nil
}

type existenceCache struct {
	client *goredis.Client
}

func (c *existenceCache) Has(ctx context.Context, name string) (bool, error) {
	err := c.client.Get(ctx, KeyPrefix+name).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *existenceCache) Mark(ctx context.Context, name string) error {
	return c.client.Set(ctx, KeyPrefix+name, "1", 0).Err()
}

var _ registrycache.ExistenceCache = (*existenceCache)(nil)
