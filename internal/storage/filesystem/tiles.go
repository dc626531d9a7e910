// Package filesystem stores tiles as {root}/{z}/{x}/{y}.png files, the layout
// offline map devices and tile servers read directly.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"geotrek-offline/internal/geo"
	"geotrek-offline/internal/storage"
)

// TileStore keeps one file per tile below a root directory.
type TileStore struct {
	root string
	ext  string
}

var _ storage.TileStore = (*TileStore)(nil)

// New creates root if needed and returns a store writing ".png" files.
func New(root string) (*TileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("tile directory is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, storage.Wrap("create tile directory", err)
	}
	return &TileStore{root: root, ext: ".png"}, nil
}

// Root returns the base directory.
func (s *TileStore) Root() string { return s.root }

// Path returns the file that holds key.
func (s *TileStore) Path(key geo.TileKey) string {
	return filepath.Join(s.dir(key), strconv.FormatUint(uint64(key.Y), 10)+s.ext)
}

func (s *TileStore) dir(key geo.TileKey) string {
	return filepath.Join(s.root, strconv.FormatUint(uint64(key.Zoom), 10), strconv.FormatUint(uint64(key.X), 10))
}

// GetTile reads the tile file.
func (s *TileStore) GetTile(ctx context.Context, key geo.TileKey) (storage.CachedTile, error) {
	if err := ctx.Err(); err != nil {
		return storage.CachedTile{}, err
	}
	path := s.Path(key)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return storage.CachedTile{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.CachedTile{}, storage.Wrap("stat tile", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return storage.CachedTile{}, storage.Wrap("read tile", err)
	}
	return storage.CachedTile{Key: key, Data: data, StoredAt: info.ModTime()}, nil
}

// PutTile writes data to a temporary file and renames it into place, so a
// reader never observes a partial tile.
func (s *TileStore) PutTile(ctx context.Context, key geo.TileKey, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := s.dir(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return storage.Wrap("create tile directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".tile-*")
	if err != nil {
		return storage.Wrap("create tile", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return storage.Wrap("write tile", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return storage.Wrap("write tile", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return storage.Wrap("write tile", err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		_ = os.Remove(tmpName)
		return storage.Wrap("commit tile", err)
	}
	return nil
}

// HasTile reports whether the tile file exists.
func (s *TileStore) HasTile(ctx context.Context, key geo.TileKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, storage.Wrap("stat tile", err)
}

// DeleteTile removes the tile file if present.
func (s *TileStore) DeleteTile(ctx context.Context, key geo.TileKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storage.Wrap("delete tile", err)
	}
	return nil
}
