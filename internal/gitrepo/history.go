package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/rhplus0831/risugit/internal/snapshot"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

const fetchedRef = plumbing.ReferenceName("refs/risugit/fetched")

// Revision is one entry of the branch history.
type Revision struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
	Parents int       `json:"parents"`
}

// Log lists the history of the local branch, newest first. A repository
// without commits has an empty history. A shallow history ends at the
// deepest commit present.
func (r *Repository) Log(ctx context.Context) ([]Revision, error) {
	repo, err := r.open()
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gitrepo: open: %w", err)
	}
	head, err := refHash(repo, r.branchRef())
	if err != nil || head.IsZero() {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{From: head})
	if err != nil {
		return nil, fmt.Errorf("gitrepo: log: %w", err)
	}
	defer iter.Close()

	var out []Revision
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out = append(out, Revision{
			Hash:    c.Hash.String(),
			Message: c.Message,
			Author:  c.Author.Name,
			When:    c.Author.When,
			Parents: c.NumParents(),
		})
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) && !syncerr.IsNotFound(err) {
		return out, fmt.Errorf("gitrepo: log: %w", err)
	}
	return out, nil
}

// resolve turns rev into a commit hash, fetching it from the remote when the
// local repository does not have it.
func (r *Repository) resolve(ctx context.Context, repo *git.Repository, rev string) (plumbing.Hash, error) {
	if h, err := repo.ResolveRevision(plumbing.Revision(rev)); err == nil {
		if _, err := repo.CommitObject(*h); err == nil {
			return *h, nil
		}
	}
	if !plumbing.IsHash(rev) {
		return plumbing.ZeroHash, syncerr.RevisionUnavailable(rev, plumbing.ErrReferenceNotFound)
	}
	remote, err := r.remote(repo)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	err = remote.FetchContext(ctx, &git.FetchOptions{
		RemoteName: RemoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(rev + ":" + fetchedRef.String())},
		Auth:       r.auth(),
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return plumbing.ZeroHash, syncerr.RevisionUnavailable(rev, err)
	}
	h := plumbing.NewHash(rev)
	if _, err := repo.CommitObject(h); err != nil {
		return plumbing.ZeroHash, syncerr.RevisionUnavailable(rev, err)
	}
	log.Debug("Fetched revision from remote", "revision", rev)
	return h, nil
}

func (r *Repository) commitAt(ctx context.Context, rev string) (*object.Commit, error) {
	if err := r.EnsureRepo(ctx); err != nil {
		return nil, err
	}
	h, err := r.resolve(ctx, r.repo, rev)
	if err != nil {
		return nil, err
	}
	c, err := r.repo.CommitObject(h)
	if err != nil {
		return nil, syncerr.RevisionUnavailable(rev, err)
	}
	return c, nil
}

// ReadFileAt returns the content of path at rev, or nil when the file does
// not exist in that revision.
func (r *Repository) ReadFileAt(ctx context.Context, rev, path string) ([]byte, error) {
	c, err := r.commitAt(ctx, rev)
	if err != nil {
		return nil, err
	}
	f, err := c.File(path)
	if syncerr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gitrepo: read %s at %s: %w", path, rev, err)
	}
	return readBlob(f)
}

// TreeAt returns a snapshot source reading the tree of rev without touching
// the working tree.
func (r *Repository) TreeAt(ctx context.Context, rev string) (snapshot.Source, error) {
	c, err := r.commitAt(ctx, rev)
	if err != nil {
		return nil, err
	}
	return commitSource(c)
}

func commitSource(c *object.Commit) (snapshot.Source, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("gitrepo: read tree of %s: %w", c.Hash, err)
	}
	return &treeSource{tree: tree}, nil
}

// RevertTo checks out rev detached, hands the working tree to fn and always
// returns HEAD to the branch afterwards. An empty rev reads the current tree
// in place.
func (r *Repository) RevertTo(ctx context.Context, rev string, fn func(snapshot.Source) error) (err error) {
	if err := r.EnsureRepo(ctx); err != nil {
		return err
	}
	if rev == "" {
		return fn(snapshot.FS(r.opts.FS))
	}
	repo := r.repo
	target, err := r.resolve(ctx, repo, rev)
	if err != nil {
		return err
	}
	branch, err := refHash(repo, r.branchRef())
	if err != nil {
		return err
	}
	if branch.IsZero() {
		return syncerr.Precondition("no local commits; pull first")
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitrepo: worktree: %w", err)
	}

	defer func() {
		if cerr := r.checkoutBranch(repo); cerr != nil {
			log.Error("Failed to return to branch after revert", "branch", r.opts.Branch, "error", cerr)
			if err == nil {
				err = cerr
			}
		}
	}()
	if err := wt.Checkout(&git.CheckoutOptions{Hash: target, Force: true}); err != nil {
		return fmt.Errorf("gitrepo: checkout %s: %w", rev, err)
	}
	log.Debug("Checked out revision", "revision", target)
	return fn(snapshot.FS(r.opts.FS))
}

// DiffAgainstRemote fetches and returns sources for the local and remote
// tips.
func (r *Repository) DiffAgainstRemote(ctx context.Context) (local, remote snapshot.Source, err error) {
	if err := r.EnsureRepo(ctx); err != nil {
		return nil, nil, err
	}
	repo := r.repo
	remoteHash, found, err := r.fetch(ctx, repo, r.opts.Depth)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, syncerr.Precondition(fmt.Sprintf("remote branch %s does not exist", r.opts.Branch))
	}
	localHash, err := refHash(repo, r.branchRef())
	if err != nil {
		return nil, nil, err
	}
	if localHash.IsZero() {
		return nil, nil, syncerr.Precondition("no local commits to compare")
	}
	for _, side := range []struct {
		hash plumbing.Hash
		dst  *snapshot.Source
	}{{localHash, &local}, {remoteHash, &remote}} {
		c, err := repo.CommitObject(side.hash)
		if err != nil {
			return nil, nil, fmt.Errorf("gitrepo: read commit %s: %w", side.hash, err)
		}
		if *side.dst, err = commitSource(c); err != nil {
			return nil, nil, err
		}
	}
	return local, remote, nil
}

// treeSource reads a committed tree. Object storage is not safe for
// concurrent reads, so access is serialized.
type treeSource struct {
	mu   sync.Mutex
	tree *object.Tree
}

func (s *treeSource) ReadFile(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.tree.File(name)
	if err != nil {
		return nil, err
	}
	return readBlob(f)
}

func (s *treeSource) ReadDir(name string) ([]snapshot.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tree
	if name != "" && name != "." && name != "/" {
		sub, err := s.tree.Tree(name)
		if err != nil {
			return nil, err
		}
		t = sub
	}
	out := make([]snapshot.Entry, 0, len(t.Entries))
	for _, e := range t.Entries {
		out = append(out, snapshot.Entry{Name: e.Name, Dir: e.Mode == filemode.Dir})
	}
	return out, nil
}

func readBlob(f *object.File) ([]byte, error) {
	rd, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("gitrepo: open %s: %w", f.Name, err)
	}
	defer rd.Close()
	return io.ReadAll(rd)
}
