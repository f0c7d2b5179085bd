// Package testgit serves in-memory git remotes through go-git's server
// transport so repository tests can push and fetch without a network.
package testgit

import (
	"fmt"
	"sync"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Scheme is the URL scheme the in-process remotes answer on.
const Scheme = "risutest"

var (
	installOnce sync.Once
	loader      = &registry{repos: map[string]storer.Storer{}}
	counter     int
)

type registry struct {
	mu    sync.Mutex
	repos map[string]storer.Storer
}

func (r *registry) Load(ep *transport.Endpoint) (storer.Storer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.repos[ep.Path]
	if !ok {
		return nil, transport.ErrRepositoryNotFound
	}
	return s, nil
}

// Remote is an empty bare repository reachable at URL.
type Remote struct {
	URL     string
	Storage *memory.Storage
}

// NewRemote registers a fresh remote for the duration of the test.
func NewRemote(tb testing.TB) *Remote {
	tb.Helper()
	installOnce.Do(func() {
		client.InstallProtocol(Scheme, server.NewServer(loader))
	})

	loader.mu.Lock()
	counter++
	path := fmt.Sprintf("/repo-%d.git", counter)
	st := memory.NewStorage()
	loader.repos[path] = st
	loader.mu.Unlock()

	tb.Cleanup(func() {
		loader.mu.Lock()
		delete(loader.repos, path)
		loader.mu.Unlock()
	})
	return &Remote{URL: Scheme + "://remote" + path, Storage: st}
}
