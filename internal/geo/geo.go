// Package geo computes great-circle distances and campus radius membership.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinates is returned for latitudes outside [-90, 90],
// longitudes outside [-180, 180], non-finite values, or a non-positive radius.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Point is an immutable latitude/longitude pair in degrees.
type Point struct {
	lat float64
	lng float64
}

// NewPoint validates and builds a Point.
func NewPoint(lat, lng float64) (Point, error) {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Point{}, fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinates, lat, lng)
	}
	return Point{lat: lat, lng: lng}, nil
}

// MustPoint is NewPoint for literals known to be valid.
func MustPoint(lat, lng float64) Point {
	p, err := NewPoint(lat, lng)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Point) Lat() float64 { return p.lat }
func (p Point) Lng() float64 { return p.lng }

func (p Point) String() string { return fmt.Sprintf("(%.6f, %.6f)", p.lat, p.lng) }

// Zone is a circular campus area.
type Zone struct {
	Center       Point
	RadiusMeters float64
}

// NewZone validates and builds a Zone.
func NewZone(center Point, radiusMeters float64) (Zone, error) {
	if !(radiusMeters > 0) || math.IsInf(radiusMeters, 0) {
		return Zone{}, fmt.Errorf("%w: radius %v", ErrInvalidCoordinates, radiusMeters)
	}
	return Zone{Center: center, RadiusMeters: radiusMeters}, nil
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	φ1 := a.lat * math.Pi / 180
	φ2 := b.lat * math.Pi / 180
	Δφ := (b.lat - a.lat) * math.Pi / 180
	Δλ := (b.lng - a.lng) * math.Pi / 180

	h := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Within reports whether p lies inside z (boundary inclusive) and the measured distance.
func Within(p Point, z Zone) (bool, float64) {
	d := Distance(p, z.Center)
	return d <= z.RadiusMeters, d
}
