// Package vault registers the "vault" secret source, which reads secrets
// from a HashiCorp Vault KV v2 entry. VAULT_ADDR and VAULT_TOKEN select the
// server as usual for the Vault client.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/rhplus0831/risugit/internal/config"
	"github.com/rhplus0831/risugit/internal/registry/secret"
)

func init() {
	secret.Register(secret.Plugin{
		Name: "vault",
		Loader: func(ctx context.Context) (secret.Source, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || strings.TrimSpace(cfg.VaultPath) == "" {
				return nil, fmt.Errorf("vault secrets: RISUGIT_VAULT_PATH is required")
			}
			client, err := vaultapi.NewClient(vaultapi.DefaultConfig())
			if err != nil {
				return nil, fmt.Errorf("vault secrets: creating client: %w", err)
			}
			return New(client, cfg.VaultPath)
		},
	})
}

// Source reads all keys of one KV v2 secret on first use.
type Source struct {
	kv   *vaultapi.KVv2
	path string

	once sync.Once
	data map[string]any
	err  error
}

// New returns a Source for the KV v2 entry at "<mount>/<path>".
func New(client *vaultapi.Client, vaultPath string) (*Source, error) {
	mount, path, ok := strings.Cut(strings.Trim(vaultPath, "/"), "/")
	if !ok || mount == "" || path == "" {
		return nil, fmt.Errorf("vault secrets: path %q must look like <mount>/<path>", vaultPath)
	}
	return &Source{kv: client.KVv2(mount), path: path}, nil
}

func (s *Source) load(ctx context.Context) {
	kv, err := s.kv.Get(ctx, s.path)
	if errors.Is(err, vaultapi.ErrSecretNotFound) {
		s.data = map[string]any{}
		return
	}
	if err != nil {
		s.err = fmt.Errorf("vault secrets: read %s: %w", s.path, err)
		return
	}
	s.data = kv.Data
}

func (s *Source) Lookup(ctx context.Context, name string) (string, error) {
	s.once.Do(func() { s.load(ctx) })
	if s.err != nil {
		return "", s.err
	}
	v, ok := s.data[name]
	if !ok || v == nil {
		return "", nil
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("vault secrets: %s is not a string", name)
	}
	return str, nil
}

var _ secret.Source = (*Source)(nil)
