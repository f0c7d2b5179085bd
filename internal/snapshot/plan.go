package snapshot

import (
	"fmt"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// File is one snapshot file to write.
type File struct {
	Path string
	Data []byte
}

// Plan is the set of changes a save makes to the working tree. Remove entries
// are subtrees deleted before Files are written.
type Plan struct {
	Scope   Scope
	Remove  []string
	Files   []File
	Skipped []string
}

// Empty reports whether applying the plan would touch nothing.
func (p *Plan) Empty() bool {
	return len(p.Remove) == 0 && len(p.Files) == 0
}

// Apply performs the plan against fs, removals first, then Files in order.
func (p *Plan) Apply(fs billy.Filesystem) error {
	for _, dir := range p.Remove {
		if err := util.RemoveAll(fs, dir); err != nil {
			return fmt.Errorf("snapshot: remove %s: %w", dir, err)
		}
	}
	for _, f := range p.Files {
		if err := fs.MkdirAll(path.Dir(f.Path), 0o755); err != nil {
			return fmt.Errorf("snapshot: mkdir %s: %w", path.Dir(f.Path), err)
		}
		if err := util.WriteFile(fs, f.Path, f.Data, 0o644); err != nil {
			return fmt.Errorf("snapshot: write %s: %w", f.Path, err)
		}
	}
	return nil
}

func (p *Plan) merge(o *entityPlan) {
	p.Remove = append(p.Remove, o.remove...)
	p.Files = append(p.Files, o.files...)
	if o.skipped != "" {
		p.Skipped = append(p.Skipped, o.skipped)
	}
}

type entityPlan struct {
	remove  []string
	files   []File
	skipped string
}
