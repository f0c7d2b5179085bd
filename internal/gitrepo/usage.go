package gitrepo

import (
	"context"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
)

// Usage is the disk footprint of the repository.
type Usage struct {
	GitBytes      int64 `json:"gitBytes"`
	GitFiles      int   `json:"gitFiles"`
	WorktreeBytes int64 `json:"worktreeBytes"`
	WorktreeFiles int   `json:"worktreeFiles"`
}

func (u Usage) TotalBytes() int64 { return u.GitBytes + u.WorktreeBytes }

// Usage sums file sizes under the working tree root, split between the git
// directory and the snapshot files.
func (r *Repository) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	entries, err := r.opts.FS.ReadDir("/")
	if err != nil {
		if os.IsNotExist(err) {
			return u, nil
		}
		return u, fmt.Errorf("gitrepo: usage: %w", err)
	}
	for _, top := range entries {
		bytes, files := &u.WorktreeBytes, &u.WorktreeFiles
		if top.Name() == git.GitDirName {
			bytes, files = &u.GitBytes, &u.GitFiles
		}
		if !top.IsDir() {
			*bytes += top.Size()
			*files++
			continue
		}
		err := util.Walk(r.opts.FS, top.Name(), func(_ string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if info.Mode().IsRegular() {
				*bytes += info.Size()
				*files++
			}
			return nil
		})
		if err != nil {
			return u, fmt.Errorf("gitrepo: usage: %w", err)
		}
	}
	return u, nil
}
