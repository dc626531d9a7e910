package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"geotrek-offline/internal/geo"
	"geotrek-offline/internal/storage"
)

// GetTile returns the cached tile for key or storage.ErrNotFound.
func (s *Store) GetTile(ctx context.Context, key geo.TileKey) (storage.CachedTile, error) {
	if err := s.ready(ctx); err != nil {
		return storage.CachedTile{}, err
	}
	var (
		data     []byte
		storedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT data, stored_at FROM tiles WHERE id = ?`, key.String(),
	).Scan(&data, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.CachedTile{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.CachedTile{}, storage.Wrap("get tile", err)
	}
	return storage.CachedTile{Key: key, Data: data, StoredAt: fromMillis(storedAt)}, nil
}

// PutTile stores data under key, replacing any previous blob in one statement.
func (s *Store) PutTile(ctx context.Context, key geo.TileKey, data []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO tiles (id, zoom, x, y, data, stored_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, stored_at = excluded.stored_at`,
		key.String(), key.Zoom, key.X, key.Y, data, toMillis(s.now()),
	)
	return storage.Wrap("put tile", err)
}

// HasTile reports whether key is cached without loading the blob.
func (s *Store) HasTile(ctx context.Context, key geo.TileKey) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM tiles WHERE id = ?`, key.String()).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.Wrap("has tile", err)
	}
	return true, nil
}

// DeleteTile evicts key. Deleting a missing tile is not an error.
func (s *Store) DeleteTile(ctx context.Context, key geo.TileKey) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM tiles WHERE id = ?`, key.String())
	return storage.Wrap("delete tile", err)
}

// TileUsage returns the number of cached tiles and their total size in bytes.
func (s *Store) TileUsage(ctx context.Context) (count int, bytes int64, err error) {
	if err := s.ready(ctx); err != nil {
		return 0, 0, err
	}
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0) FROM tiles`,
	).Scan(&count, &bytes)
	if err != nil {
		return 0, 0, storage.Wrap("tile usage", err)
	}
	return count, bytes, nil
}
