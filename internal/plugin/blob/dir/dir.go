package dir

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rhplus0831/risugit/internal/config"
	registryblob "github.com/rhplus0831/risugit/internal/registry/blob"
	"github.com/rhplus0831/risugit/internal/tempfiles"
)

const tempPattern = ".risugit-upload-*"

func init() {
	registryblob.Register(registryblob.Plugin{
		Name:   "dir",
		Loader: load,
	})
}

func load(ctx context.Context, loc registryblob.Location) (registryblob.Store, error) {
	if strings.TrimSpace(loc.Dir) == "" {
		return nil, fmt.Errorf("dir blob store: directory is required")
	}
	if cfg := config.FromContext(ctx); cfg != nil && cfg.TempDir != "" {
		return New(loc.Dir, cfg.ResolvedTempDir())
	}
	return New(loc.Dir, "")
}

// Store keeps blobs as plain files in a single directory.
type Store struct {
	root    string
	tempDir string
}

// New returns a Store rooted at root. Uploads are staged in tempDir, which
// defaults to root itself so the final rename stays on one filesystem.
func New(root, tempDir string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("dir blob store: create %q: %w", root, err)
	}
	if tempDir == "" {
		tempDir = root
	}
	return &Store{root: root, tempDir: tempDir}, nil
}

func (s *Store) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("dir blob store: invalid name %q", name)
	}
	return filepath.Join(s.root, name), nil
}

func (s *Store) Put(_ context.Context, name string, r io.Reader, _ string) (*registryblob.PutResult, error) {
	dest, err := s.path(name)
	if err != nil {
		return nil, err
	}
	tmp, err := tempfiles.Create(s.tempDir, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("dir blob store: %w", err)
	}
	defer tempfiles.Discard(tmp)

	hasher := sha256.New()
	n, err := io.Copy(tmp, io.TeeReader(r, hasher))
	if err != nil {
		return nil, fmt.Errorf("dir blob store: write %s: %w", name, err)
	}
	if err := tempfiles.Commit(tmp, dest); err != nil {
		return nil, fmt.Errorf("dir blob store: %w", err)
	}
	return &registryblob.PutResult{Name: name, Size: n, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

func (s *Store) Get(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("dir blob store: open %s: %w", name, err)
	}
	return f, nil
}

func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("dir blob store: delete %s: %w", name, err)
	}
	return nil
}

func (s *Store) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("dir blob store: list: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Shared() bool { return false }

var _ registryblob.Store = (*Store)(nil)
