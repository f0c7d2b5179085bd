package none

import (
	"context"

	"github.com/rhplus0831/risugit/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.ExistenceCache, error) {
			return noneCache{}, nil
		},
	})
}

// noneCache never remembers anything, so every push asks the server.
type noneCache struct{}

func (noneCache) Has(context.Context, string) (bool, error) { return false, nil }
func (noneCache) Mark(context.Context, string) error { return nil }

var _ cache.ExistenceCache = noneCache{}
