// Package geo holds the great-circle and slippy-map tile math shared by the
// tile cache, the download engine and the live tracker.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadiusMeters is the sphere radius used for haversine distances.
const EarthRadiusMeters = 6371000.0

// GeoBounds is a geographic rectangle in degrees.
type GeoBounds struct {
	North float64 `json:"north" yaml:"north"`
	South float64 `json:"south" yaml:"south"`
	East  float64 `json:"east" yaml:"east"`
	West  float64 `json:"west" yaml:"west"`
}

// Valid reports whether north lies above south. Antimeridian crossing is not
// handled, so west > east is accepted as-is.
func (b GeoBounds) Valid() bool {
	return b.North > b.South
}

// Bound returns the bounds as an orb.Bound (Min is the south-west corner).
func (b GeoBounds) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

// Contains reports whether the point lies inside the bounds, edges included.
func (b GeoBounds) Contains(lat, lng float64) bool {
	return b.Bound().Contains(orb.Point{lng, lat})
}

// Intersects reports whether the two rectangles overlap.
func (b GeoBounds) Intersects(other GeoBounds) bool {
	return b.Bound().Intersects(other.Bound())
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceMeters returns the haversine great-circle distance between two points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRad(lat1)
	phi2 := toRad(lat2)
	dPhi := toRad(lat2 - lat1)
	dLambda := toRad(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// InitialBearingDegrees returns the forward azimuth from one point to another,
// clockwise from north in [0, 360). Coincident points yield 0.
func InitialBearingDegrees(fromLat, fromLon, toLat, toLon float64) float64 {
	if fromLat == toLat && fromLon == toLon {
		return 0
	}
	phi1 := toRad(fromLat)
	phi2 := toRad(toLat)
	dLambda := toRad(toLon - fromLon)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	bearing := math.Mod(toDeg(math.Atan2(y, x))+360, 360)
	if math.IsNaN(bearing) || bearing >= 360 {
		return 0
	}
	return bearing
}
