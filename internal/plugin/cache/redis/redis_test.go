package redis_test

import (
	"context"
	"testing"

	"github.com/rhplus0831/risugit/internal/plugin/cache/redis"
	"github.com/rhplus0831/risugit/internal/testutil/testredis"
	"github.com/stretchr/testify/require"
)

func TestExistenceCache(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	c, err := redis.LoadFromURL(ctx, testredis.StartRedis(t))
	require.NoError(t, err)

	ok, err := c.Has(ctx, "a.png")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Mark(ctx, "a.png"))
	ok, err = c.Has(ctx, "a.png")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Has(ctx, "b.png")
	require.NoError(t, err)
	require.False(t, ok)
}
