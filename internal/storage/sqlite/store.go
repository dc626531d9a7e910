// Package sqlite provides the SQLite-backed offline cache: tiles, the region
// catalog, recorded treks and saved points.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"geotrek-offline/internal/storage"
	"geotrek-offline/internal/storage/sqlite/migrations"

	_ "modernc.org/sqlite" // Register the "sqlite" driver
)

// Store persists the offline cache in a single SQLite file.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var (
	_ storage.TileStore   = (*Store)(nil)
	_ storage.RegionStore = (*Store)(nil)
	_ storage.TrekStore   = (*Store)(nil)
	_ storage.PointStore  = (*Store)(nil)
)

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.Wrap("open", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, storage.Wrap("ping", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, storage.Wrap("migrate", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return &storage.StorageError{Op: "use", Err: fmt.Errorf("storage is not configured")}
	}
	return nil
}
