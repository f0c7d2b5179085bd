package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
)

// Migrator brings one schema up to date. Migrators read their connection
// settings from config.FromContext and must be idempotent.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin is a migrator with an order for deterministic execution.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func sorted() []Plugin {
	out := make([]Plugin, len(plugins))
	copy(out, plugins)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Names lists the registered migrators in execution order.
func Names() []string {
	var names []string
	for _, p := range sorted() {
		names = append(names, p.Migrator.Name())
	}
	return names
}

// RunAll executes all registered migrators sorted by Order and stops at the
// first failure.
func RunAll(ctx context.Context) error {
	for _, p := range sorted() {
		log.Debug("Migrating", "name", p.Migrator.Name(), "order", p.Order)
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
