package host

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/rhplus0831/risugit/internal/model"
	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/rhplus0831/risugit/internal/tempfiles"
)

// JSONFile is a State backed by a host database exported as JSON.
type JSONFile struct {
	Path string
}

func (f *JSONFile) Database(context.Context) (*model.Database, error) {
	if f.Path == "" {
		return nil, syncerr.Config("host database path is not set")
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("host: read %s: %w", f.Path, err)
	}
	db := &model.Database{}
	if err := json.Unmarshal(data, db); err != nil {
		return nil, fmt.Errorf("host: parse %s: %w", f.Path, err)
	}
	return db, nil
}

// ReplaceDatabase rewrites the file atomically.
func (f *JSONFile) ReplaceDatabase(_ context.Context, db *model.Database) error {
	if f.Path == "" {
		return syncerr.Config("host database path is not set")
	}
	data, err := model.Marshal(db)
	if err != nil {
		return fmt.Errorf("host: encode database: %w", err)
	}
	tmp, err := tempfiles.Create(filepath.Dir(f.Path), ".risugit-db-*")
	if err != nil {
		return fmt.Errorf("host: %w", err)
	}
	defer tempfiles.Discard(tmp)
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("host: write database: %w", err)
	}
	if err := tempfiles.Commit(tmp, f.Path); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	log.Debug("Replaced host database", "path", f.Path, "bytes", len(data))
	return nil
}

func (f *JSONFile) CurrentRef(ctx context.Context) (Ref, error) {
	db, err := f.Database(ctx)
	if err != nil {
		return Ref{}, err
	}
	return CurrentRef(db)
}

var _ State = (*JSONFile)(nil)
