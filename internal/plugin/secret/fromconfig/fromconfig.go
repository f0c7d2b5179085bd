// Package fromconfig registers the "config" secret source, which serves the
// values already present in the configuration.
package fromconfig

import (
	"context"

	"github.com/rhplus0831/risugit/internal/config"
	"github.com/rhplus0831/risugit/internal/registry/secret"
)

func init() {
	secret.Register(secret.Plugin{
		Name: "config",
		Loader: func(ctx context.Context) (secret.Source, error) {
			return source{cfg: config.FromContext(ctx)}, nil
		},
	})
}

type source struct {
	cfg *config.Config
}

func (s source) Lookup(_ context.Context, name string) (string, error) {
	if s.cfg == nil {
		return "", nil
	}
	switch name {
	case secret.EncryptKey:
		return s.cfg.Passphrase, nil
	case secret.GitPassword:
		return s.cfg.GitPassword, nil
	}
	return "", nil
}
