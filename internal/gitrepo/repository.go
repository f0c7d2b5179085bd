// Package gitrepo is the repository gateway: it owns the local git working
// tree that holds the snapshot and talks to the single remote named origin.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

const (
	RemoteName    = "origin"
	AuthorEmail   = "user@risu.app"
	DefaultBranch = "main"
	DefaultAuthor = "risugit"
)

// Options configures a Repository.
type Options struct {
	// FS is the working tree root; the git directory lives at FS/.git.
	FS         billy.Filesystem
	Branch     string
	RemoteURL  string
	Username   string
	Password   string
	Proxy      string
	AuthorName string
	// Depth limits fetch history. Zero fetches everything.
	Depth int
}

// State describes the local repository.
type State int

const (
	Uninitialized State = iota
	Initialized
	Clean
	Dirty
	Detached
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Detached:
		return "detached"
	default:
		return "uninitialized"
	}
}

// Repository is the gateway to one local repository. It is not safe for
// concurrent use; callers serialize whole operations.
type Repository struct {
	opts Options
	repo *git.Repository
}

// Open returns a gateway for opts. Nothing is touched until an operation runs.
func Open(opts Options) *Repository {
	if opts.Branch == "" {
		opts.Branch = DefaultBranch
	}
	if opts.AuthorName == "" {
		opts.AuthorName = DefaultAuthor
	}
	opts.RemoteURL = strings.TrimSuffix(opts.RemoteURL, "/")
	return &Repository{opts: opts}
}

// FS returns the working tree filesystem.
func (r *Repository) FS() billy.Filesystem { return r.opts.FS }

// Branch returns the configured branch name.
func (r *Repository) Branch() string { return r.opts.Branch }

func (r *Repository) branchRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(r.opts.Branch)
}

func (r *Repository) remoteRef() plumbing.ReferenceName {
	return plumbing.NewRemoteReferenceName(RemoteName, r.opts.Branch)
}

func (r *Repository) storage() (*filesystem.Storage, error) {
	dot, err := r.opts.FS.Chroot(git.GitDirName)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: open %s: %w", git.GitDirName, err)
	}
	return filesystem.NewStorage(dot, cache.NewObjectLRUDefault()), nil
}

// open returns the cached handle or opens an existing repository. It returns
// git.ErrRepositoryNotExists when there is none.
func (r *Repository) open() (*git.Repository, error) {
	if r.repo != nil {
		return r.repo, nil
	}
	if _, err := r.opts.FS.Stat(git.GitDirName); err != nil {
		return nil, git.ErrRepositoryNotExists
	}
	st, err := r.storage()
	if err != nil {
		return nil, err
	}
	repo, err := git.Open(st, r.opts.FS)
	if err != nil {
		return nil, err
	}
	r.repo = repo
	return repo, nil
}

// EnsureRepo initializes the repository on first use and moves a detached
// HEAD back onto the configured branch.
func (r *Repository) EnsureRepo(ctx context.Context) error {
	repo, err := r.open()
	if errors.Is(err, git.ErrRepositoryNotExists) {
		st, serr := r.storage()
		if serr != nil {
			return serr
		}
		repo, err = git.InitWithOptions(st, r.opts.FS, git.InitOptions{DefaultBranch: r.branchRef()})
		if err != nil {
			return fmt.Errorf("gitrepo: init: %w", err)
		}
		log.Info("Initialized repository", "branch", r.opts.Branch)
		r.repo = repo
		return nil
	}
	if err != nil {
		return fmt.Errorf("gitrepo: open: %w", err)
	}
	return r.reattach(repo)
}

func (r *Repository) reattach(repo *git.Repository) error {
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		if syncerr.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("gitrepo: read HEAD: %w", err)
	}
	if head.Type() == plumbing.SymbolicReference {
		return nil
	}
	if _, err := repo.Reference(r.branchRef(), false); err != nil {
		if syncerr.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("gitrepo: read %s: %w", r.branchRef(), err)
	}
	log.Warn("HEAD is detached; returning to branch", "branch", r.opts.Branch, "head", head.Hash())
	return r.checkoutBranch(repo)
}

func (r *Repository) checkoutBranch(repo *git.Repository) error {
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitrepo: worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: r.branchRef(), Force: true}); err != nil {
		return fmt.Errorf("gitrepo: checkout %s: %w", r.opts.Branch, err)
	}
	return nil
}

// State reports what the local repository looks like right now.
func (r *Repository) State(ctx context.Context) (State, error) {
	repo, err := r.open()
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Uninitialized, nil
	}
	if err != nil {
		return Uninitialized, fmt.Errorf("gitrepo: open: %w", err)
	}
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return Uninitialized, fmt.Errorf("gitrepo: read HEAD: %w", err)
	}
	if head.Type() == plumbing.HashReference {
		return Detached, nil
	}
	if _, err := repo.Reference(head.Target(), false); syncerr.IsNotFound(err) {
		return Initialized, nil
	}
	wt, err := repo.Worktree()
	if err != nil {
		return Uninitialized, fmt.Errorf("gitrepo: worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return Uninitialized, fmt.Errorf("gitrepo: status: %w", err)
	}
	if status.IsClean() {
		return Clean, nil
	}
	return Dirty, nil
}

// Head returns the commit the local branch points at, or the zero hash when
// the branch has no commits.
func (r *Repository) Head(ctx context.Context) (plumbing.Hash, error) {
	repo, err := r.open()
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: open: %w", err)
	}
	return refHash(repo, r.branchRef())
}

func refHash(repo *git.Repository, name plumbing.ReferenceName) (plumbing.Hash, error) {
	ref, err := repo.Reference(name, true)
	if syncerr.IsNotFound(err) {
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: read %s: %w", name, err)
	}
	return ref.Hash(), nil
}

func (r *Repository) signature() *object.Signature {
	return &object.Signature{Name: r.opts.AuthorName, Email: AuthorEmail, When: time.Now()}
}
