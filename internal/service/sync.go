package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rhplus0831/risugit/internal/assetsync"
	"github.com/rhplus0831/risugit/internal/dataencryption"
	"github.com/rhplus0831/risugit/internal/gitrepo"
	"github.com/rhplus0831/risugit/internal/host"
	"github.com/rhplus0831/risugit/internal/model"
	"github.com/rhplus0831/risugit/internal/security"
	"github.com/rhplus0831/risugit/internal/snapshot"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

// Default commit messages.
const (
	MessageSaveAll   = "Save data"
	MessageSaveOther = "Save other data"
	MessageSaveChat  = "Save chat"
	MessageMerge     = "Merge remote changes"
)

// Syncer ties the host state, the snapshot codec and the repository
// together. Operations on one Syncer must not run concurrently.
type Syncer struct {
	Repo       *gitrepo.Repository
	Host       host.State
	Keyring    *dataencryption.Keyring
	Passphrase string
	// Assets is optional; without it asset operations fail with a config error.
	Assets *assetsync.Syncer
	// Concurrency bounds per-character encode work. Zero means the codec default.
	Concurrency int
	// Depth limits fetch history for Reclone. Zero fetches everything.
	Depth int
}

func (s *Syncer) key() (*dataencryption.Key, error) {
	return s.Keyring.Derive(s.Passphrase)
}

func orDefault(message, def string) string {
	if message == "" {
		return def
	}
	return message
}

// SaveAll commits the whole graph. A zero hash with a nil error means there
// was nothing to commit.
func (s *Syncer) SaveAll(ctx context.Context, message string) (plumbing.Hash, error) {
	return s.save(ctx, snapshot.Full(), orDefault(message, MessageSaveAll))
}

// SaveOther commits only the auxiliary collections.
func (s *Syncer) SaveOther(ctx context.Context, message string) (plumbing.Hash, error) {
	return s.save(ctx, snapshot.Auxiliary(), orDefault(message, MessageSaveOther))
}

// SaveCharacter commits one character with all its chats.
func (s *Syncer) SaveCharacter(ctx context.Context, charID, message string) (plumbing.Hash, error) {
	return s.save(ctx, snapshot.Character(charID), orDefault(message, MessageSaveAll))
}

// SaveChat commits one chat of one character.
func (s *Syncer) SaveChat(ctx context.Context, charID, chatID, message string) (plumbing.Hash, error) {
	return s.save(ctx, snapshot.Chat(charID, chatID), orDefault(message, MessageSaveChat))
}

// SaveCurrentChat commits the chat the host has open.
func (s *Syncer) SaveCurrentChat(ctx context.Context) (plumbing.Hash, error) {
	ref, err := s.Host.CurrentRef(ctx)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	db, err := s.Host.Database(ctx)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	i := db.FindCharacter(ref.CharacterID)
	if i < 0 || ref.ChatIndex < 0 || ref.ChatIndex >= len(db.Characters[i].Chats) {
		return plumbing.ZeroHash, syncerr.Precondition(fmt.Sprintf("current chat %s#%d not found", ref.CharacterID, ref.ChatIndex))
	}
	c := db.Characters[i]
	chat := c.Chats[ref.ChatIndex]
	chatName, _ := chat.Fields["name"].(string)
	message := fmt.Sprintf("%s[%s] / %d messages", c.Name(), chatName, len(chat.Messages))
	return s.save(ctx, snapshot.Chat(c.ID, chat.ID), message)
}

func (s *Syncer) save(ctx context.Context, scope snapshot.Scope, message string) (hash plumbing.Hash, err error) {
	defer func() { security.RecordSyncOperation("save", err) }()

	key, err := s.key()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	db, err := s.Host.Database(ctx)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	enc := &snapshot.Encoder{Key: key, Source: snapshot.FS(s.Repo.FS()), Concurrency: s.Concurrency}
	plan, err := enc.Encode(ctx, db, scope)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	hash, err = s.Repo.CommitSnapshot(ctx, plan, message)
	if errors.Is(err, gitrepo.ErrNothingToCommit) {
		log.Info("Nothing to save", "scope", scope, "skipped", len(plan.Skipped))
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, err
	}
	log.Info("Saved snapshot", "scope", scope, "commit", hash, "files", len(plan.Files), "removed", len(plan.Remove), "skipped", len(plan.Skipped))
	return hash, nil
}

// Restore replaces the host graph with the snapshot at rev. An empty rev
// restores the current branch tip. Host settings outside the graph are kept.
func (s *Syncer) Restore(ctx context.Context, rev string) (err error) {
	defer func() { security.RecordSyncOperation("restore", err) }()

	key, err := s.key()
	if err != nil {
		return err
	}
	var restored *model.Database
	err = s.Repo.RevertTo(ctx, rev, func(src snapshot.Source) error {
		probe, err := src.ReadFile(snapshot.ProbeFile)
		if syncerr.IsNotFound(err) {
			return syncerr.Precondition("nothing to restore; save or pull first")
		}
		if err != nil {
			return fmt.Errorf("service: read %s: %w", snapshot.ProbeFile, err)
		}
		if err := key.VerifyProbe(probe); err != nil {
			return err
		}
		restored, err = snapshot.Decode(ctx, src, key)
		return err
	})
	if err != nil {
		return err
	}

	current, err := s.Host.Database(ctx)
	if err != nil {
		return err
	}
	// Host settings outside the snapshot stay; the graph and every auxiliary
	// collection come from the revision, absent ones included.
	next := &model.Database{
		Characters: restored.Characters,
		Aux:        restored.Aux,
		Fields:     current.Fields,
	}
	if err := s.Host.ReplaceDatabase(ctx, next); err != nil {
		return err
	}
	log.Info("Restored snapshot", "revision", rev, "characters", len(next.Characters))
	return nil
}

// Push sends the branch to the remote.
func (s *Syncer) Push(ctx context.Context) (err error) {
	defer func() { security.RecordSyncOperation("push", err) }()
	return s.Repo.Push(ctx)
}

// Pull fast-forwards the branch to the remote.
func (s *Syncer) Pull(ctx context.Context) (err error) {
	defer func() { security.RecordSyncOperation("pull", err) }()
	return s.Repo.Pull(ctx)
}

// Merge resolves a divergence by taking one side's tree whole.
func (s *Syncer) Merge(ctx context.Context, preferLocal bool) (hash plumbing.Hash, err error) {
	defer func() { security.RecordSyncOperation("merge", err) }()
	return s.Repo.CreateMergeCommit(ctx, MessageMerge, preferLocal)
}

// Diff summarizes the local and remote tips.
func (s *Syncer) Diff(ctx context.Context) (local, remote *snapshot.Summary, err error) {
	key, err := s.key()
	if err != nil {
		return nil, nil, err
	}
	localSrc, remoteSrc, err := s.Repo.DiffAgainstRemote(ctx)
	if err != nil {
		return nil, nil, err
	}
	if local, err = snapshot.DecodeSummary(ctx, localSrc, key); err != nil {
		return nil, nil, err
	}
	if remote, err = snapshot.DecodeSummary(ctx, remoteSrc, key); err != nil {
		return nil, nil, err
	}
	return local, remote, nil
}

// Reclone discards local git history and fetches the remote again.
func (s *Syncer) Reclone(ctx context.Context) (err error) {
	defer func() { security.RecordSyncOperation("reclone", err) }()
	return s.Repo.Reclone(ctx, s.Depth)
}

// History lists commits on the branch, newest first.
func (s *Syncer) History(ctx context.Context) ([]gitrepo.Revision, error) {
	return s.Repo.Log(ctx)
}

// ReadAt returns the decrypted JSON of path at rev, or nil when the file
// does not exist there.
func (s *Syncer) ReadAt(ctx context.Context, rev, path string) (json.RawMessage, error) {
	key, err := s.key()
	if err != nil {
		return nil, err
	}
	data, err := s.Repo.ReadFileAt(ctx, rev, path)
	if err != nil || data == nil {
		return nil, err
	}
	return key.DecryptJSON(data)
}

// Usage reports the disk footprint of the repository.
func (s *Syncer) Usage(ctx context.Context) (gitrepo.Usage, error) {
	return s.Repo.Usage(ctx)
}

func (s *Syncer) assets() (*assetsync.Syncer, error) {
	if s.Assets == nil || s.Assets.Client == nil {
		return nil, syncerr.Config("asset server is not configured")
	}
	return s.Assets, nil
}

// PushAssets uploads every asset the host graph references.
func (s *Syncer) PushAssets(ctx context.Context, progress func(assetsync.Progress)) (assetsync.Summary, error) {
	a, err := s.assets()
	if err != nil {
		return assetsync.Summary{}, err
	}
	db, err := s.Host.Database(ctx)
	if err != nil {
		return assetsync.Summary{}, err
	}
	return a.PushAll(ctx, model.AssetRefs(db), progress)
}

// PullAssets downloads every referenced asset missing locally.
func (s *Syncer) PullAssets(ctx context.Context, progress func(assetsync.Progress)) (assetsync.Summary, error) {
	a, err := s.assets()
	if err != nil {
		return assetsync.Summary{}, err
	}
	db, err := s.Host.Database(ctx)
	if err != nil {
		return assetsync.Summary{}, err
	}
	return a.PullAll(ctx, model.AssetRefs(db), progress)
}
