// Package assetdb keeps asset server metadata: one row per stored asset with
// its upload and last access times.
package assetdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rhplus0831/risugit/internal/config"
	registrymigrate "github.com/rhplus0831/risugit/internal/registry/migrate"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func init() {
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &migrator{}})
}

// Asset is the metadata row of a stored asset.
type Asset struct {
	ID               uint      `gorm:"primaryKey"`
	Filename         string    `gorm:"uniqueIndex;not null"`
	FileType         string    `gorm:"not null;default:''"`
	FileSize         int64     `gorm:"not null"`
	UploadDate       time.Time `gorm:"not null"`
	LastAccessedDate time.Time `gorm:"index;not null"`
}

func (Asset) TableName() string { return "assets" }

// DB wraps the gorm connection.
type DB struct {
	db *gorm.DB
}

// Open connects to a "sqlite" or "postgres" database.
func Open(kind, url string) (*DB, error) {
	var dialector gorm.Dialector
	switch kind {
	case "sqlite":
		dialector = sqlite.Open(url)
	case "postgres":
		dialector = postgres.Open(url)
	default:
		return nil, fmt.Errorf("unknown asset db kind %q; valid: [sqlite postgres]", kind)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("assetdb: connect %s: %w", kind, err)
	}
	if kind == "sqlite" {
		// sqlite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("assetdb: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return &DB{db: db}, nil
}

// Migrate creates or updates the schema.
func (d *DB) Migrate(ctx context.Context) error {
	if err := d.db.WithContext(ctx).AutoMigrate(&Asset{}); err != nil {
		return fmt.Errorf("assetdb: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert records a fresh upload of a. Re-uploading an existing name resets
// its size, type and both timestamps.
func (d *DB) Upsert(ctx context.Context, a Asset) error {
	now := time.Now().UTC()
	if a.UploadDate.IsZero() {
		a.UploadDate = now
	}
	if a.LastAccessedDate.IsZero() {
		a.LastAccessedDate = a.UploadDate
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "filename"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_type", "file_size", "upload_date", "last_accessed_date"}),
	}).Create(&a).Error
	if err != nil {
		return fmt.Errorf("assetdb: upsert %s: %w", a.Filename, err)
	}
	return nil
}

// Get returns the row for filename, or nil when there is none.
func (d *DB) Get(ctx context.Context, filename string) (*Asset, error) {
	var a Asset
	err := d.db.WithContext(ctx).Where("filename = ?", filename).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("assetdb: get %s: %w", filename, err)
	}
	return &a, nil
}

// Touch sets the last access time of filename.
func (d *DB) Touch(ctx context.Context, filename string, at time.Time) error {
	err := d.db.WithContext(ctx).Model(&Asset{}).
		Where("filename = ?", filename).
		Update("last_accessed_date", at.UTC()).Error
	if err != nil {
		return fmt.Errorf("assetdb: touch %s: %w", filename, err)
	}
	return nil
}

// ListStale returns up to limit assets last accessed before cutoff, oldest first.
func (d *DB) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Asset, error) {
	var out []Asset
	err := d.db.WithContext(ctx).
		Where("last_accessed_date < ?", cutoff.UTC()).
		Order("last_accessed_date, id").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("assetdb: list stale: %w", err)
	}
	return out, nil
}

// Delete removes the row for filename.
func (d *DB) Delete(ctx context.Context, filename string) error {
	err := d.db.WithContext(ctx).Where("filename = ?", filename).Delete(&Asset{}).Error
	if err != nil {
		return fmt.Errorf("assetdb: delete %s: %w", filename, err)
	}
	return nil
}

type migrator struct{}

func (m *migrator) Name() string { return "asset-db-schema" }

func (m *migrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil
	}
	log.Info("Running migration", "name", m.Name(), "kind", cfg.DBKind)
	db, err := Open(cfg.DBKind, cfg.DBURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Migrate(ctx)
}
