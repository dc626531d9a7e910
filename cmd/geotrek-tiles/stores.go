package main

import (
	"context"
	"fmt"
	"path/filepath"

	"geotrek-offline/internal/config"
	"geotrek-offline/internal/storage"
	"geotrek-offline/internal/storage/filesystem"
	"geotrek-offline/internal/storage/memory"
	"geotrek-offline/internal/storage/sqlite"
)

// catalogFile holds the region catalog, treks and points next to a
// filesystem tile tree.
const catalogFile = "catalog.db"

type stores struct {
	tiles   storage.TileStore
	regions storage.RegionStore
	// db is nil for the memory backend.
	db *sqlite.Store
}

func openStores(ctx context.Context, cfg config.StoreConfig) (*stores, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return &stores{tiles: db, regions: db, db: db}, nil
	case config.BackendFilesystem:
		tiles, err := filesystem.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		db, err := sqlite.Open(ctx, filepath.Join(cfg.Path, catalogFile))
		if err != nil {
			return nil, err
		}
		return &stores{tiles: tiles, regions: db, db: db}, nil
	case config.BackendMemory:
		return &stores{tiles: memory.NewTileStore(), regions: memory.NewRegionStore()}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// catalog returns the persistent store for treks and points.
func (s *stores) catalog() (*sqlite.Store, error) {
	if s.db == nil {
		return nil, fmt.Errorf("the %s backend does not keep treks or points", config.BackendMemory)
	}
	return s.db, nil
}

func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
