// Package memory provides in-process tile and region stores. Nothing survives
// a restart; they back tests and ephemeral sessions.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/btree"

	"geotrek-offline/internal/geo"
	"geotrek-offline/internal/storage"
)

const degree = 8

// lessKey orders tiles by zoom, then row, then column: the order tiles are
// enumerated for a region.
func lessKey(a, b storage.CachedTile) bool {
	if a.Key.Zoom != b.Key.Zoom {
		return a.Key.Zoom < b.Key.Zoom
	}
	if a.Key.Y != b.Key.Y {
		return a.Key.Y < b.Key.Y
	}
	return a.Key.X < b.Key.X
}

// TileStore keeps tiles in a BTree keyed by tile coordinates.
type TileStore struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[storage.CachedTile]
	now  func() time.Time
}

var _ storage.TileStore = (*TileStore)(nil)

// NewTileStore returns an empty tile store.
func NewTileStore() *TileStore {
	return &TileStore{
		tree: btree.NewG(degree, lessKey),
		now:  time.Now,
	}
}

func probe(key geo.TileKey) storage.CachedTile {
	return storage.CachedTile{Key: key}
}

// GetTile returns a copy of the cached tile or storage.ErrNotFound.
func (s *TileStore) GetTile(ctx context.Context, key geo.TileKey) (storage.CachedTile, error) {
	if err := ctx.Err(); err != nil {
		return storage.CachedTile{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tree.Get(probe(key))
	if !ok {
		return storage.CachedTile{}, storage.ErrNotFound
	}
	t.Data = bytes.Clone(t.Data)
	return t, nil
}

// PutTile stores a private copy of data under key.
func (s *TileStore) PutTile(ctx context.Context, key geo.TileKey, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := storage.CachedTile{Key: key, Data: bytes.Clone(data), StoredAt: s.now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(t)
	return nil
}

// HasTile reports whether key is cached.
func (s *TileStore) HasTile(ctx context.Context, key geo.TileKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Has(probe(key)), nil
}

// DeleteTile evicts key.
func (s *TileStore) DeleteTile(ctx context.Context, key geo.TileKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Delete(probe(key))
	return nil
}

// Len returns the number of cached tiles.
func (s *TileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Keys returns the cached keys in enumeration order.
func (s *TileStore) Keys() []geo.TileKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]geo.TileKey, 0, s.tree.Len())
	s.tree.Ascend(func(t storage.CachedTile) bool {
		keys = append(keys, t.Key)
		return true
	})
	return keys
}

// KeysAtZoom returns the cached keys of one zoom level in enumeration order.
func (s *TileStore) KeysAtZoom(zoom uint32) []geo.TileKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []geo.TileKey
	from := probe(geo.TileKey{Zoom: zoom})
	to := probe(geo.TileKey{Zoom: zoom + 1})
	s.tree.AscendRange(from, to, func(t storage.CachedTile) bool {
		keys = append(keys, t.Key)
		return true
	})
	return keys
}
