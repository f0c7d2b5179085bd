package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

// RemoteURL returns the URL used to reach the remote, with the proxy prefix
// applied when one is configured.
func (r *Repository) RemoteURL() string {
	return withProxy(r.opts.Proxy, r.opts.RemoteURL)
}

// HasRemote reports whether a remote URL is configured.
func (r *Repository) HasRemote() bool { return r.opts.RemoteURL != "" }

func withProxy(proxy, url string) string {
	proxy = strings.TrimSuffix(proxy, "/")
	if proxy == "" {
		return url
	}
	rest := url
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	return proxy + "/" + rest
}

func (r *Repository) auth() transport.AuthMethod {
	if r.opts.Username == "" && r.opts.Password == "" {
		return nil
	}
	return &http.BasicAuth{Username: r.opts.Username, Password: r.opts.Password}
}

func (r *Repository) remote(repo *git.Repository) (*git.Remote, error) {
	if r.opts.RemoteURL == "" {
		return nil, syncerr.Config("git URL is not configured")
	}
	return git.NewRemote(repo.Storer, &config.RemoteConfig{
		Name: RemoteName,
		URLs: []string{r.RemoteURL()},
	}), nil
}

// fetch updates refs/remotes/origin/<branch> and returns its hash. found is
// false when the remote is empty or lacks the branch.
func (r *Repository) fetch(ctx context.Context, repo *git.Repository, depth int) (hash plumbing.Hash, found bool, err error) {
	remote, err := r.remote(repo)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	spec := config.RefSpec(fmt.Sprintf("+%s:%s", r.branchRef(), r.remoteRef()))
	err = remote.FetchContext(ctx, &git.FetchOptions{
		RemoteName: RemoteName,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       r.auth(),
		Depth:      depth,
		Force:      true,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
	case errors.Is(err, transport.ErrEmptyRemoteRepository), errors.Is(err, git.NoMatchingRefSpecError{}):
		return plumbing.ZeroHash, false, nil
	default:
		return plumbing.ZeroHash, false, fmt.Errorf("gitrepo: fetch: %w", err)
	}
	h, err := refHash(repo, r.remoteRef())
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	return h, !h.IsZero(), nil
}

// Fetch refreshes the remote-tracking ref and returns the remote tip, or the
// zero hash when the remote has no such branch.
func (r *Repository) Fetch(ctx context.Context) (plumbing.Hash, error) {
	if err := r.EnsureRepo(ctx); err != nil {
		return plumbing.ZeroHash, err
	}
	h, _, err := r.fetch(ctx, r.repo, r.opts.Depth)
	return h, err
}

// Push sends the local branch to origin. A non-fast-forward update is
// reported as syncerr.ErrPushRejected.
func (r *Repository) Push(ctx context.Context) error {
	if err := r.EnsureRepo(ctx); err != nil {
		return err
	}
	repo := r.repo
	head, err := refHash(repo, r.branchRef())
	if err != nil {
		return err
	}
	if head.IsZero() {
		return syncerr.Precondition("nothing to push; save first")
	}
	remote, err := r.remote(repo)
	if err != nil {
		return err
	}
	spec := config.RefSpec(fmt.Sprintf("%s:%s", r.branchRef(), r.branchRef()))
	err = remote.PushContext(ctx, &git.PushOptions{
		RemoteName: RemoteName,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       r.auth(),
	})
	switch {
	case err == nil:
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		log.Debug("Remote already up to date", "branch", r.opts.Branch)
		return nil
	case isRejected(err):
		return syncerr.PushRejected(err)
	default:
		return fmt.Errorf("gitrepo: push: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(r.remoteRef(), head)); err != nil {
		return fmt.Errorf("gitrepo: update %s: %w", r.remoteRef(), err)
	}
	log.Info("Pushed", "branch", r.opts.Branch, "commit", head)
	return nil
}

func isRejected(err error) bool {
	if errors.Is(err, git.ErrForceNeeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "non-fast-forward") || strings.Contains(msg, "rejected")
}

// Pull fetches and fast-forwards the local branch. When both sides have
// commits the other lacks it returns syncerr.ErrDiverged.
func (r *Repository) Pull(ctx context.Context) error {
	if err := r.EnsureRepo(ctx); err != nil {
		return err
	}
	return r.pull(ctx, r.opts.Depth)
}

func (r *Repository) pull(ctx context.Context, depth int) error {
	repo := r.repo
	remoteHash, found, err := r.fetch(ctx, repo, depth)
	if err != nil {
		return err
	}
	if !found {
		log.Info("Remote branch does not exist yet", "branch", r.opts.Branch)
		return nil
	}
	localHash, err := refHash(repo, r.branchRef())
	if err != nil {
		return err
	}
	switch {
	case localHash.IsZero():
		return r.moveBranch(repo, remoteHash)
	case localHash == remoteHash:
		log.Debug("Already up to date", "commit", localHash)
		return nil
	}

	local, err := repo.CommitObject(localHash)
	if err != nil {
		return fmt.Errorf("gitrepo: read local commit: %w", err)
	}
	remote, err := repo.CommitObject(remoteHash)
	if err != nil {
		return fmt.Errorf("gitrepo: read remote commit: %w", err)
	}
	behind, err := local.IsAncestor(remote)
	if err != nil {
		return fmt.Errorf("gitrepo: compare history: %w", err)
	}
	if behind {
		return r.moveBranch(repo, remoteHash)
	}
	ahead, err := remote.IsAncestor(local)
	if err != nil {
		return fmt.Errorf("gitrepo: compare history: %w", err)
	}
	if ahead {
		log.Info("Local branch is ahead of remote", "local", localHash, "remote", remoteHash)
		return nil
	}
	return syncerr.Diverged(fmt.Sprintf("local %s and remote %s have diverged; merge required", localHash, remoteHash))
}

func (r *Repository) moveBranch(repo *git.Repository, to plumbing.Hash) error {
	if err := repo.Storer.SetReference(plumbing.NewHashReference(r.branchRef(), to)); err != nil {
		return fmt.Errorf("gitrepo: update %s: %w", r.branchRef(), err)
	}
	if err := r.checkoutBranch(repo); err != nil {
		return err
	}
	log.Info("Pulled", "branch", r.opts.Branch, "commit", to)
	return nil
}

// Reclone replaces the local repository with a fresh fetch at depth. It
// refuses unless the local branch already matches the remote.
func (r *Repository) Reclone(ctx context.Context, depth int) error {
	if err := r.EnsureRepo(ctx); err != nil {
		return err
	}
	remoteHash, found, err := r.fetch(ctx, r.repo, 0)
	if err != nil {
		return err
	}
	localHash, err := refHash(r.repo, r.branchRef())
	if err != nil {
		return err
	}
	if !found || localHash != remoteHash {
		return syncerr.Precondition("local and remote differ; pull and push before recloning")
	}

	entries, err := r.opts.FS.ReadDir("/")
	if err != nil {
		return fmt.Errorf("gitrepo: list working tree: %w", err)
	}
	for _, e := range entries {
		if err := util.RemoveAll(r.opts.FS, e.Name()); err != nil {
			return fmt.Errorf("gitrepo: remove %s: %w", e.Name(), err)
		}
	}
	r.repo = nil
	log.Info("Removed local repository; cloning again", "depth", depth)
	if err := r.EnsureRepo(ctx); err != nil {
		return err
	}
	return r.pull(ctx, depth)
}
