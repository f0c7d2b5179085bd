package gitrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rhplus0831/risugit/internal/snapshot"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

// ErrNothingToCommit is returned when a save leaves the tree unchanged.
var ErrNothingToCommit = errors.New("gitrepo: nothing to commit")

// CommitSnapshot applies plan to the working tree and commits every change,
// deletions included.
func (r *Repository) CommitSnapshot(ctx context.Context, plan *snapshot.Plan, message string) (plumbing.Hash, error) {
	if err := r.EnsureRepo(ctx); err != nil {
		return plumbing.ZeroHash, err
	}
	if err := plan.Apply(r.opts.FS); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: apply: %w", err)
	}
	return r.commitAll(message)
}

func (r *Repository) commitAll(message string) (plumbing.Hash, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: status: %w", err)
	}
	if status.IsClean() {
		return plumbing.ZeroHash, ErrNothingToCommit
	}
	var added, removed int
	for p, s := range status {
		switch s.Worktree {
		case git.Unmodified:
		case git.Deleted:
			if _, err := wt.Remove(p); err != nil {
				return plumbing.ZeroHash, fmt.Errorf("gitrepo: stage removal of %s: %w", p, err)
			}
			removed++
		default:
			if err := wt.AddWithOptions(&git.AddOptions{Path: p, SkipStatus: true}); err != nil {
				return plumbing.ZeroHash, fmt.Errorf("gitrepo: stage %s: %w", p, err)
			}
			added++
		}
	}
	sig := r.signature()
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if errors.Is(err, git.ErrEmptyCommit) {
		return plumbing.ZeroHash, ErrNothingToCommit
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: commit: %w", err)
	}
	log.Info("Committed snapshot", "commit", hash, "message", message, "staged", added, "removed", removed)
	return hash, nil
}

// CreateMergeCommit records a merge of the local branch and the remote tip.
// The tree is taken whole from the preferred side; parents are local then
// remote. The branch is moved to the new commit and checked out.
func (r *Repository) CreateMergeCommit(ctx context.Context, message string, preferLocal bool) (plumbing.Hash, error) {
	if err := r.EnsureRepo(ctx); err != nil {
		return plumbing.ZeroHash, err
	}
	repo := r.repo
	remoteHash, found, err := r.fetch(ctx, repo, r.opts.Depth)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if !found {
		return plumbing.ZeroHash, syncerr.Precondition(fmt.Sprintf("remote branch %s does not exist", r.opts.Branch))
	}
	localHash, err := refHash(repo, r.branchRef())
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if localHash.IsZero() {
		return plumbing.ZeroHash, syncerr.Precondition("no local commits to merge")
	}
	local, err := repo.CommitObject(localHash)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: read local commit: %w", err)
	}
	remote, err := repo.CommitObject(remoteHash)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: read remote commit: %w", err)
	}
	tree := remote.TreeHash
	if preferLocal {
		tree = local.TreeHash
	}

	sig := r.signature()
	commit := &object.Commit{
		Author:       *sig,
		Committer:    *sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: []plumbing.Hash{local.Hash, remote.Hash},
	}
	obj := repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: encode merge: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: store merge: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(r.branchRef(), hash)); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: update %s: %w", r.branchRef(), err)
	}
	if err := r.checkoutBranch(repo); err != nil {
		return plumbing.ZeroHash, err
	}
	log.Info("Created merge commit", "commit", hash, "local", local.Hash, "remote", remote.Hash, "preferLocal", preferLocal)
	return hash, nil
}
