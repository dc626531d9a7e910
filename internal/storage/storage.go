// Package storage defines the persisted tile cache, region catalog, trek and
// saved-point contracts shared by the sqlite, memory and filesystem backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geotrek-offline/internal/geo"
)

var (
	// ErrNotFound indicates a missing tile, region, trek or point.
	ErrNotFound = errors.New("record not found")
	// ErrStorage is matched by every StorageError.
	ErrStorage = errors.New("storage unavailable")
)

// StorageError reports that the persistence layer failed an operation. It is a
// hard failure for a region download.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Wrap returns nil for a nil err, err unchanged for ErrNotFound, and a
// StorageError otherwise.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// CachedTile is one stored raster tile.
type CachedTile struct {
	Key      geo.TileKey
	Data     []byte
	StoredAt time.Time
}

// TileStore is a key-scoped blob store for raster tiles. Put overwrites, and a
// write either fully lands or fails.
type TileStore interface {
	GetTile(ctx context.Context, key geo.TileKey) (CachedTile, error)
	PutTile(ctx context.Context, key geo.TileKey, data []byte) error
	HasTile(ctx context.Context, key geo.TileKey) (bool, error)
	DeleteTile(ctx context.Context, key geo.TileKey) error
}

// Region is a catalog entry for a downloaded rectangle and zoom range.
type Region struct {
	ID        int64
	Name      string
	Bounds    geo.GeoBounds
	MinZoom   uint32
	MaxZoom   uint32
	TileCount int
	SizeBytes int64
	CreatedAt time.Time
}

// Contains reports whether the point lies inside the region's bounds.
func (r Region) Contains(lat, lng float64) bool {
	return r.Bounds.Contains(lat, lng)
}

// Covers reports whether the tile belongs to the region's zoom range and
// overlaps its bounds.
func (r Region) Covers(key geo.TileKey) bool {
	if key.Zoom < r.MinZoom || key.Zoom > r.MaxZoom {
		return false
	}
	return r.Bounds.Bound().Intersects(key.Tile().Bound())
}

// RegionStore is the persisted catalog of downloaded regions. ListRegions
// returns newest first.
type RegionStore interface {
	AddRegion(ctx context.Context, region Region) (int64, error)
	GetRegion(ctx context.Context, id int64) (Region, error)
	ListRegions(ctx context.Context) ([]Region, error)
	DeleteRegion(ctx context.Context, id int64) error
}

// TrekVertex is one recorded path position.
type TrekVertex struct {
	Lat float64
	Lng float64
}

// Trek is a recorded GPS track.
type Trek struct {
	ID        int64
	Name      string
	StartTime time.Time
	EndTime   time.Time
	Path      []TrekVertex
	Distance  float64
	Synced    bool
}

// TrekStore persists recorded treks.
type TrekStore interface {
	CreateTrek(ctx context.Context, startTime time.Time) (int64, error)
	AppendTrekVertex(ctx context.Context, id int64, v TrekVertex) error
	FinishTrek(ctx context.Context, trek Trek) error
	GetTrek(ctx context.Context, id int64) (Trek, error)
	ListTreks(ctx context.Context) ([]Trek, error)
}

// Point is a saved geotagged point of interest.
type Point struct {
	ID        int64
	TrekID    int64
	Lat       float64
	Lng       float64
	Accuracy  float64
	Timestamp time.Time
	Notes     string
	Tags      []string
	Photo     []byte
}

// PointStore persists saved points.
type PointStore interface {
	AddPoint(ctx context.Context, p Point) (int64, error)
	GetPoint(ctx context.Context, id int64) (Point, error)
	ListPoints(ctx context.Context) ([]Point, error)
	DeletePoint(ctx context.Context, id int64) error
}
