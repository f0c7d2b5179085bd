package s3store_test

import (
	"context"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/rhplus0831/risugit/internal/config"
	_ "github.com/rhplus0831/risugit/internal/plugin/blob/s3store"
	registryblob "github.com/rhplus0831/risugit/internal/registry/blob"
	"github.com/rhplus0831/risugit/internal/testutil/tests3"
	"github.com/stretchr/testify/require"
)

func TestS3Store(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	cfg := config.DefaultConfig()
	cfg.S3Bucket = tests3.StartS3(t)
	cfg.S3UsePathStyle = true
	cfg.TempDir = t.TempDir()
	ctx := config.WithContext(context.Background(), &cfg)

	loader, err := registryblob.Select("s3")
	require.NoError(t, err)
	store, err := loader(ctx, registryblob.Location{Prefix: "assets"})
	require.NoError(t, err)
	require.True(t, store.Shared())

	ok, err := store.Exists(ctx, "a.png")
	require.NoError(t, err)
	require.False(t, ok)
	_, err = store.Get(ctx, "a.png")
	require.ErrorIs(t, err, fs.ErrNotExist)

	res, err := store.Put(ctx, "a.png", strings.NewReader("abc"), "image/png")
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Size)

	ok, err = store.Exists(ctx, "a.png")
	require.NoError(t, err)
	require.True(t, ok)

	rc, err := store.Get(ctx, "a.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "abc", string(data))

	names, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a.png"}, names)

	require.NoError(t, store.Delete(ctx, "a.png"))
	ok, err = store.Exists(ctx, "a.png")
	require.NoError(t, err)
	require.False(t, ok)
}
