package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rhplus0831/risugit/internal/assetdb"
	"github.com/rhplus0831/risugit/internal/registry/blob"
)

const cleanupBatchSize = 200

// AssetCleanupService deletes assets nobody has fetched within the
// retention period, from metadata and storage.
type AssetCleanupService struct {
	db        *assetdb.DB
	store     blob.Store
	retention time.Duration
	interval  time.Duration
	onDelete  func(name string)
}

func NewAssetCleanupService(db *assetdb.DB, store blob.Store, retention, interval time.Duration) *AssetCleanupService {
	return &AssetCleanupService{
		db:        db,
		store:     store,
		retention: retention,
		interval:  interval,
	}
}

// OnDelete registers a hook called with each deleted asset name, so caches
// can forget it.
func (s *AssetCleanupService) OnDelete(fn func(name string)) {
	s.onDelete = fn
}

func (s *AssetCleanupService) Start(ctx context.Context) {
	if s == nil || s.db == nil || s.interval <= 0 || s.retention <= 0 {
		return
	}
	s.CleanupOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupOnce(ctx)
		}
	}
}

// CleanupOnce runs a single pass and returns how many assets were removed.
func (s *AssetCleanupService) CleanupOnce(ctx context.Context) int {
	cutoff := time.Now().Add(-s.retention)
	removed := 0
	for {
		stale, err := s.db.ListStale(ctx, cutoff, cleanupBatchSize)
		if err != nil {
			log.Error("Asset cleanup list failed", "err", err)
			return removed
		}
		if len(stale) == 0 {
			break
		}
		progressed := false
		for _, a := range stale {
			if err := s.store.Delete(ctx, a.Filename); err != nil {
				log.Warn("Asset cleanup blob delete failed", "asset", a.Filename, "err", err)
				continue
			}
			if err := s.db.Delete(ctx, a.Filename); err != nil {
				log.Error("Asset cleanup delete failed", "asset", a.Filename, "err", err)
				continue
			}
			if s.onDelete != nil {
				s.onDelete(a.Filename)
			}
			removed++
			progressed = true
		}
		if !progressed || len(stale) < cleanupBatchSize {
			break
		}
	}
	if removed > 0 {
		log.Info("Asset cleanup finished", "removed", removed, "cutoff", cutoff)
	}
	return removed
}
