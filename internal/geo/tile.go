package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb/maptile"
)

// MaxMercatorLat is the latitude limit of the Web-Mercator projection.
const MaxMercatorLat = 85.0511287798066

// MaxZoom is the deepest zoom level tile enumeration reaches. Deeper levels
// are ignored.
const MaxZoom = 24

// indexEpsilon absorbs float error when a tile corner is projected back to
// its own index.
const indexEpsilon = 1e-9

// TileKey identifies one raster tile in the slippy-map scheme.
type TileKey struct {
	Zoom uint32
	X    uint32
	Y    uint32
}

// String formats the key as "z-x-y", the storage identity of a tile.
func (k TileKey) String() string {
	return fmt.Sprintf("%d-%d-%d", k.Zoom, k.X, k.Y)
}

// Valid reports whether x and y lie inside the 2^zoom grid.
func (k TileKey) Valid() bool {
	if k.Zoom > 31 {
		return false
	}
	n := uint64(1) << k.Zoom
	return uint64(k.X) < n && uint64(k.Y) < n
}

// Tile converts the key to an orb maptile.
func (k TileKey) Tile() maptile.Tile {
	return maptile.New(k.X, k.Y, maptile.Zoom(k.Zoom))
}

// FromTile converts an orb maptile to a key.
func FromTile(t maptile.Tile) TileKey {
	return TileKey{Zoom: uint32(t.Z), X: t.X, Y: t.Y}
}

// Bounds returns the geographic rectangle covered by the tile.
func (k TileKey) Bounds() GeoBounds {
	return GeoBounds{
		North: TileYToLat(k.Y, k.Zoom),
		South: TileYToLat(k.Y+1, k.Zoom),
		West:  TileXToLon(k.X, k.Zoom),
		East:  TileXToLon(k.X+1, k.Zoom),
	}
}

func tilesCount(zoom uint32) float64 {
	return math.Pow(2, float64(zoom))
}

func clampIndex(v float64, zoom uint32) uint32 {
	maxIndex := tilesCount(zoom) - 1
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > maxIndex:
		return uint32(maxIndex)
	}
	return uint32(v)
}

// LonToTileX converts longitude to tile X coordinate.
func LonToTileX(lon float64, zoom uint32) uint32 {
	return clampIndex(math.Floor(((lon+180.0)/360.0)*tilesCount(zoom)+indexEpsilon), zoom)
}

// LatToTileY converts latitude to tile Y coordinate.
func LatToTileY(lat float64, zoom uint32) uint32 {
	lat = math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, lat))
	rad := toRad(lat)
	y := (1.0 - math.Log(math.Tan(rad)+1.0/math.Cos(rad))/math.Pi) / 2.0
	return clampIndex(math.Floor(y*tilesCount(zoom)+indexEpsilon), zoom)
}

// TileXToLon returns the longitude of the western edge of column x.
func TileXToLon(x, zoom uint32) float64 {
	return float64(x)/tilesCount(zoom)*360.0 - 180.0
}

// TileYToLat returns the latitude of the northern edge of row y.
func TileYToLat(y, zoom uint32) float64 {
	n := math.Pi - 2.0*math.Pi*float64(y)/tilesCount(zoom)
	return toDeg(math.Atan(math.Sinh(n)))
}

// TileRange is the inclusive index rectangle covering a bounds at one zoom.
type TileRange struct {
	Zoom       uint32
	MinX, MaxX uint32
	MinY, MaxY uint32
}

// Count returns the number of tiles in the range.
func (r TileRange) Count() int {
	return int(r.MaxX-r.MinX+1) * int(r.MaxY-r.MinY+1)
}

// RangeAt computes the tile range covering bounds at zoom. MinY is the row of
// the north edge.
func RangeAt(bounds GeoBounds, zoom uint32) TileRange {
	r := TileRange{
		Zoom: zoom,
		MinX: LonToTileX(bounds.West, zoom),
		MaxX: LonToTileX(bounds.East, zoom),
		MinY: LatToTileY(bounds.North, zoom),
		MaxY: LatToTileY(bounds.South, zoom),
	}
	if r.MinX > r.MaxX {
		r.MinX, r.MaxX = r.MaxX, r.MinX
	}
	if r.MinY > r.MaxY {
		r.MinY, r.MaxY = r.MaxY, r.MinY
	}
	return r
}

// CountTiles returns len(EnumerateTiles(bounds, minZoom, maxZoom)) without
// materialising the keys.
func CountTiles(bounds GeoBounds, minZoom, maxZoom uint32) int {
	maxZoom = min(maxZoom, MaxZoom)
	if !bounds.Valid() || minZoom > maxZoom {
		return 0
	}
	total := 0
	for z := minZoom; z <= maxZoom; z++ {
		total += RangeAt(bounds, z).Count()
	}
	return total
}

// EnumerateTiles lists every tile covering bounds for each zoom in
// [minZoom, min(maxZoom, MaxZoom)]. Zooms ascend; within a zoom rows run north to south and
// each row runs west to east.
func EnumerateTiles(bounds GeoBounds, minZoom, maxZoom uint32) []TileKey {
	maxZoom = min(maxZoom, MaxZoom)
	if !bounds.Valid() || minZoom > maxZoom {
		return nil
	}
	tiles := make([]TileKey, 0, CountTiles(bounds, minZoom, maxZoom))
	for z := minZoom; z <= maxZoom; z++ {
		r := RangeAt(bounds, z)
		for y := r.MinY; y <= r.MaxY; y++ {
			for x := r.MinX; x <= r.MaxX; x++ {
				tiles = append(tiles, TileKey{Zoom: z, X: x, Y: y})
			}
		}
	}
	return tiles
}
