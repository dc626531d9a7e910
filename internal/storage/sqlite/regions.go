package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"geotrek-offline/internal/storage"
)

const regionColumns = `id, name, north, south, east, west, min_zoom, max_zoom, tile_count, size_bytes, created_at`

// AddRegion inserts a catalog entry and returns its autoincrement id.
func (s *Store) AddRegion(ctx context.Context, region storage.Region) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	name := strings.TrimSpace(region.Name)
	if name == "" {
		return 0, fmt.Errorf("region name is required")
	}
	createdAt := region.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO regions (name, north, south, east, west, min_zoom, max_zoom, tile_count, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		name,
		region.Bounds.North,
		region.Bounds.South,
		region.Bounds.East,
		region.Bounds.West,
		region.MinZoom,
		region.MaxZoom,
		region.TileCount,
		region.SizeBytes,
		toMillis(createdAt),
	)
	if err != nil {
		return 0, storage.Wrap("add region", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storage.Wrap("add region", err)
	}
	return id, nil
}

// GetRegion returns one catalog entry.
func (s *Store) GetRegion(ctx context.Context, id int64) (storage.Region, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Region{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+regionColumns+` FROM regions WHERE id = ?`, id)
	region, err := scanRegion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Region{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Region{}, storage.Wrap("get region", err)
	}
	return region, nil
}

// ListRegions returns every catalog entry, newest first.
func (s *Store) ListRegions(ctx context.Context) ([]storage.Region, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+regionColumns+` FROM regions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, storage.Wrap("list regions", err)
	}
	defer rows.Close()

	var regions []storage.Region
	for rows.Next() {
		region, err := scanRegion(rows)
		if err != nil {
			return nil, storage.Wrap("list regions", err)
		}
		regions = append(regions, region)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("list regions", err)
	}
	return regions, nil
}

// DeleteRegion removes the catalog entry only; its tiles stay cached.
func (s *Store) DeleteRegion(ctx context.Context, id int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM regions WHERE id = ?`, id)
	if err != nil {
		return storage.Wrap("delete region", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Wrap("delete region", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegion(row rowScanner) (storage.Region, error) {
	var (
		region    storage.Region
		createdAt int64
	)
	err := row.Scan(
		&region.ID,
		&region.Name,
		&region.Bounds.North,
		&region.Bounds.South,
		&region.Bounds.East,
		&region.Bounds.West,
		&region.MinZoom,
		&region.MaxZoom,
		&region.TileCount,
		&region.SizeBytes,
		&createdAt,
	)
	if err != nil {
		return storage.Region{}, err
	}
	region.CreatedAt = fromMillis(createdAt)
	return region, nil
}
