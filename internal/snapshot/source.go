package snapshot

import (
	"sort"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

// Entry is a directory listing entry.
type Entry struct {
	Name string
	Dir  bool
}

// Source is read-only access to a snapshot tree. Missing paths report an
// error satisfying syncerr.IsNotFound.
type Source interface {
	ReadFile(name string) ([]byte, error)
	ReadDir(name string) ([]Entry, error)
}

// FS returns a Source over a billy filesystem. Access is serialized so the
// decoder may fan out over a filesystem that is not safe for concurrent use.
func FS(fs billy.Filesystem) Source {
	return &fsSource{fs: fs}
}

type fsSource struct {
	mu sync.Mutex
	fs billy.Filesystem
}

func (s *fsSource) ReadFile(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return util.ReadFile(s.fs, name)
}

func (s *fsSource) ReadDir(name string) ([]Entry, error) {
	s.mu.Lock()
	infos, err := s.fs.ReadDir(name)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		out = append(out, Entry{Name: fi.Name(), Dir: fi.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func exists(src Source, name string) (bool, error) {
	_, err := src.ReadFile(name)
	switch {
	case err == nil:
		return true, nil
	case syncerr.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// subdirs lists the directory names under dir; a missing dir yields none.
func subdirs(src Source, dir string) ([]string, error) {
	entries, err := src.ReadDir(dir)
	if syncerr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Dir {
			names = append(names, e.Name)
		}
	}
	return names, nil
}
