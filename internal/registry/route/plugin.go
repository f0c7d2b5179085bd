package route

import (
	"sort"

	"github.com/gin-gonic/gin"
)

// RouterLoader mounts routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// Plugin is a self-registering set of routes. Lower Order mounts first.
type Plugin struct {
	Name   string
	Order  int
	Loader RouterLoader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Loaders returns the registered loaders sorted by order.
func Loaders() []RouterLoader {
	sorted := append([]Plugin(nil), plugins...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	loaders := make([]RouterLoader, len(sorted))
	for i, p := range sorted {
		loaders[i] = p.Loader
	}
	return loaders
}

// MountAll runs every registered loader against r.
func MountAll(r *gin.Engine) error {
	for _, load := range Loaders() {
		if err := load(r); err != nil {
			return err
		}
	}
	return nil
}
