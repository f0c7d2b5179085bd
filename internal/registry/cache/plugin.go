package cache

import (
	"context"
	"fmt"
)

// ExistenceCache remembers asset names known to exist on the remote asset
// server so repeated pushes skip the HEAD round trip.
type ExistenceCache interface {
	Has(ctx context.Context, name string) (bool, error)
	Mark(ctx context.Context, name string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (ExistenceCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
