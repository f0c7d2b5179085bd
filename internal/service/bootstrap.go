package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// BootstrapOptions selects the startup steps to run.
type BootstrapOptions struct {
	Pull          bool
	SaveOther     bool
	SaveCharacter bool
	PushAssets    bool
}

// Bootstrap runs the startup sequence: pull, save, push, then push assets.
// SaveOther alone needs an earlier full save. It stops at the first failure.
func (s *Syncer) Bootstrap(ctx context.Context, opts BootstrapOptions) error {
	remote := s.Repo.HasRemote()

	if remote && opts.Pull {
		log.Info("Bootstrap: pulling")
		if err := s.Pull(ctx); err != nil {
			return fmt.Errorf("bootstrap pull: %w", err)
		}
	}
	// A full save already writes the auxiliary collections.
	switch {
	case opts.SaveCharacter:
		log.Info("Bootstrap: saving characters")
		if _, err := s.SaveAll(ctx, ""); err != nil {
			return fmt.Errorf("bootstrap save: %w", err)
		}
	case opts.SaveOther:
		log.Info("Bootstrap: saving other data")
		if _, err := s.SaveOther(ctx, ""); err != nil {
			return fmt.Errorf("bootstrap save other: %w", err)
		}
	}
	if remote && (opts.SaveOther || opts.SaveCharacter) {
		log.Info("Bootstrap: pushing")
		if err := s.Push(ctx); err != nil {
			return fmt.Errorf("bootstrap push: %w", err)
		}
	}
	if opts.PushAssets {
		log.Info("Bootstrap: pushing assets")
		sum, err := s.PushAssets(ctx, nil)
		if err != nil {
			return fmt.Errorf("bootstrap push assets: %w", err)
		}
		log.Info("Bootstrap: assets pushed", "uploaded", sum.Done, "already", sum.Already, "failed", sum.Failed)
	}
	return nil
}

// OnRequestsSettled is the debounced callback of the watch loop: it saves
// the open chat when saveChat is set and pushes when push is set.
func (s *Syncer) OnRequestsSettled(ctx context.Context, saveChat, push bool) {
	if !saveChat {
		return
	}
	if _, err := s.SaveCurrentChat(ctx); err != nil {
		log.Error("Automatic chat save failed", "err", err)
		return
	}
	if !push || !s.Repo.HasRemote() {
		return
	}
	if err := s.Push(ctx); err != nil {
		log.Error("Automatic push failed", "err", err)
	}
}
