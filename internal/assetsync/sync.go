// Package assetsync mirrors host asset blobs between a local blob store and
// a remote asset server.
package assetsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rhplus0831/risugit/internal/registry/blob"
	"github.com/rhplus0831/risugit/internal/registry/cache"
	"github.com/rhplus0831/risugit/internal/security"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

// DefaultMaxConnections is the worker count used when none is configured.
const DefaultMaxConnections = 8

// Outcome is the result of syncing one asset.
type Outcome int

const (
	Uploaded Outcome = iota
	AlreadyExists
	Restored
	AlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case Uploaded:
		return "uploaded"
	case AlreadyExists:
		return "already exists"
	case Restored:
		return "restored"
	case AlreadyPresent:
		return "already present"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Progress is reported periodically while a batch runs.
type Progress struct {
	Done  int
	Total int
}

// Summary counts the outcomes of a batch. Done counts transferred assets,
// Already those that needed no transfer.
type Summary struct {
	Done    int
	Already int
	Failed  int
}

// Syncer moves assets between Local and the server behind Client. Callers
// must not run two batches against the same stores at once.
type Syncer struct {
	Local  blob.Store
	Cache  cache.ExistenceCache
	Client *Client
	// MaxConnections bounds concurrent transfers. Zero means DefaultMaxConnections.
	MaxConnections int
	// ProgressInterval defaults to one second.
	ProgressInterval time.Duration
}

// Push makes sure the server has the asset at ref.
func (s *Syncer) Push(ctx context.Context, ref string) (Outcome, error) {
	name := path.Base(ref)
	if s.Cache != nil {
		hit, err := s.Cache.Has(ctx, name)
		if err != nil {
			log.Warn("Asset cache lookup failed", "asset", name, "err", err)
		}
		security.RecordAssetCache(hit)
		if hit {
			return AlreadyExists, nil
		}
	}

	exists, err := s.Client.Exists(ctx, name)
	if err != nil {
		return 0, err
	}
	if exists {
		s.mark(ctx, name)
		return AlreadyExists, nil
	}

	rc, err := s.Local.Get(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("assetsync: read local %s: %w", name, err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return 0, fmt.Errorf("assetsync: read local %s: %w", name, err)
	}
	if err := s.Client.Upload(ctx, name, data, MimeType(name)); err != nil {
		return 0, err
	}
	s.mark(ctx, name)
	return Uploaded, nil
}

func (s *Syncer) mark(ctx context.Context, name string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Mark(ctx, name); err != nil {
		log.Warn("Asset cache update failed", "asset", name, "err", err)
	}
}

// Pull makes sure the local store has the asset at ref.
func (s *Syncer) Pull(ctx context.Context, ref string) (Outcome, error) {
	name := path.Base(ref)
	exists, err := s.Local.Exists(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("assetsync: check local %s: %w", name, err)
	}
	if exists {
		return AlreadyPresent, nil
	}
	data, err := s.Client.Download(ctx, name)
	if err != nil {
		return 0, err
	}
	if _, err := s.Local.Put(ctx, name, bytes.NewReader(data), MimeType(name)); err != nil {
		return 0, fmt.Errorf("assetsync: store %s: %w", name, err)
	}
	return Restored, nil
}

// PushAll pushes every ref. Individual failures are logged and counted.
func (s *Syncer) PushAll(ctx context.Context, refs []string, progress func(Progress)) (Summary, error) {
	sum, err := s.run(ctx, "push", refs, progress, s.Push)
	security.RecordSyncOperation("assets_push", err)
	return sum, err
}

// PullAll pulls every ref. It refuses to run against a shared local store,
// where one request per asset would load the account backend.
func (s *Syncer) PullAll(ctx context.Context, refs []string, progress func(Progress)) (Summary, error) {
	if s.Local.Shared() {
		return Summary{}, syncerr.Precondition("assets cannot be restored while the local store is account-backed")
	}
	sum, err := s.run(ctx, "pull", refs, progress, s.Pull)
	security.RecordSyncOperation("assets_pull", err)
	return sum, err
}

func (s *Syncer) run(ctx context.Context, op string, refs []string, progress func(Progress), fn func(context.Context, string) (Outcome, error)) (Summary, error) {
	if len(refs) == 0 {
		return Summary{}, nil
	}
	workers := s.MaxConnections
	if workers <= 0 {
		workers = DefaultMaxConnections
	}
	workers = min(workers, len(refs))
	interval := s.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}

	var (
		mu    sync.Mutex
		queue = append([]string(nil), refs...)
		sum   Summary
		done  int
	)
	next := func() (string, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(queue) == 0 || ctx.Err() != nil {
			return "", false
		}
		ref := queue[0]
		queue = queue[1:]
		return ref, true
	}
	report := func() {
		if progress == nil {
			return
		}
		mu.Lock()
		p := Progress{Done: done, Total: len(refs)}
		mu.Unlock()
		progress(p)
	}

	log.Info("Syncing assets", "op", op, "count", len(refs), "workers", workers)
	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				report()
			}
		}
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ref, ok := next()
				if !ok {
					return
				}
				outcome, err := fn(ctx, ref)
				mu.Lock()
				switch {
				case err != nil:
					sum.Failed++
				case outcome == Uploaded || outcome == Restored:
					sum.Done++
				default:
					sum.Already++
				}
				done++
				mu.Unlock()
				if err != nil {
					log.Warn("Asset sync failed", "op", op, "asset", ref, "err", err)
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	report()

	log.Info("Asset sync finished", "op", op, "done", sum.Done, "already", sum.Already, "failed", sum.Failed)
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}
