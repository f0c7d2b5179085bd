package secret

import (
	"context"
	"fmt"

	"github.com/rhplus0831/risugit/internal/config"
)

// Names of the secrets risugit looks up.
const (
	EncryptKey  = "encrypt_key"
	GitPassword = "git_password"
)

// Source resolves named secrets. Lookup returns "" with a nil error when the
// source has no value for name.
type Source interface {
	Lookup(ctx context.Context, name string) (string, error)
}

// Loader creates a Source from config.
type Loader func(ctx context.Context) (Source, error)

// Plugin represents a secret source plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a secret source plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered secret source plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named secret source plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown secret source %q; valid: %v", name, Names())
}

// Apply fills the passphrase and git password of cfg from src. Values the
// source does not have leave cfg unchanged.
func Apply(ctx context.Context, src Source, cfg *config.Config) error {
	for name, dest := range map[string]*string{
		EncryptKey:  &cfg.Passphrase,
		GitPassword: &cfg.GitPassword,
	} {
		v, err := src.Lookup(ctx, name)
		if err != nil {
			return fmt.Errorf("secret: lookup %s: %w", name, err)
		}
		if v != "" {
			*dest = v
		}
	}
	return nil
}
