// Package seeker guides the user back to a saved point.
package seeker

import (
	"math"

	"geotrek-offline/internal/geo"
)

// Proximity bands by distance to the target.
type Proximity int

const (
	Cold Proximity = iota
	Warm
	Hot
)

const (
	// HotRadiusMeters is the distance under which the target is Hot.
	HotRadiusMeters = 20
	// WarmRadiusMeters is the distance under which the target is Warm.
	WarmRadiusMeters = 50
)

func (p Proximity) String() string {
	switch p {
	case Hot:
		return "hot"
	case Warm:
		return "warm"
	default:
		return "cold"
	}
}

// ProximityFor returns the band for a distance in meters.
func ProximityFor(meters float64) Proximity {
	switch {
	case meters < HotRadiusMeters:
		return Hot
	case meters < WarmRadiusMeters:
		return Warm
	default:
		return Cold
	}
}

// Guidance is what the UI shows while seeking.
type Guidance struct {
	DistanceMeters float64
	// Bearing is the absolute bearing to the target, clockwise from north.
	Bearing float64
	// Relative is the bearing to the target relative to the device heading,
	// in [0, 360).
	Relative  float64
	Proximity Proximity
}

// Guide computes guidance towards a fixed target.
type Guide struct {
	TargetLat, TargetLng float64
}

// New returns a Guide towards lat, lng.
func New(lat, lng float64) Guide {
	return Guide{TargetLat: lat, TargetLng: lng}
}

// From returns the guidance from the given position with the device facing
// heading degrees.
func (g Guide) From(lat, lng, heading float64) Guidance {
	d := geo.DistanceMeters(lat, lng, g.TargetLat, g.TargetLng)
	b := geo.InitialBearingDegrees(lat, lng, g.TargetLat, g.TargetLng)
	return Guidance{
		DistanceMeters: d,
		Bearing:        b,
		Relative:       normalize(b - heading),
		Proximity:      ProximityFor(d),
	}
}

func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
