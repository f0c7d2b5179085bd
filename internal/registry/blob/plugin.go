package blob

import (
	"context"
	"fmt"
	"io"
)

// PutResult describes a stored blob.
type PutResult struct {
	Name   string
	Size   int64
	SHA256 string
}

// Store is a flat namespace of named blobs. Get returns an error matching
// fs.ErrNotExist when the blob is missing.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, contentType string) (*PutResult, error)
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
	// Shared reports whether the store is account-backed rather than
	// local to this machine.
	Shared() bool
}

// Location tells a plugin where its blobs live. Dir is used by filesystem
// plugins, Prefix by object store plugins.
type Location struct {
	Dir    string
	Prefix string
}

// Loader creates a Store from config.
type Loader func(ctx context.Context, loc Location) (Store, error)

// Plugin represents a blob store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a blob store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered blob store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named blob store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown blob store %q; valid: %v", name, Names())
}
