package fromconfig_test

import (
	"context"
	"testing"

	"github.com/rhplus0831/risugit/internal/config"
	_ "github.com/rhplus0831/risugit/internal/plugin/secret/fromconfig"
	"github.com/rhplus0831/risugit/internal/registry/secret"
	"github.com/stretchr/testify/require"
)

func TestConfigSource(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Passphrase = "pw"
	ctx := config.WithContext(context.Background(), &cfg)

	loader, err := secret.Select("config")
	require.NoError(t, err)
	src, err := loader(ctx)
	require.NoError(t, err)

	v, err := src.Lookup(ctx, secret.EncryptKey)
	require.NoError(t, err)
	require.Equal(t, "pw", v)
	v, err = src.Lookup(ctx, secret.GitPassword)
	require.NoError(t, err)
	require.Empty(t, v)

	_, err = secret.Select("keyring")
	require.ErrorContains(t, err, `unknown secret source "keyring"`)
}
