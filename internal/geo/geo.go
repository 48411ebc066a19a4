// Package geo holds the pure geospatial math used to find and draw nearby codes.
//
// Everything here is deterministic and allocation-free. Inputs are WGS84
// decimal degrees and are NOT validated: callers pass sane latitudes in
// [-90,90] and longitudes in [-180,180] or accept garbage out.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371e3

// DefaultViewportSpan is the width and height, in degrees, of the map window
// drawn around the user (±0.01° around the centre).
const DefaultViewportSpan = 0.02

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Valid reports whether p lies inside the legal latitude/longitude ranges.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 &&
		p.Lon >= -180 && p.Lon <= 180
}

// DistanceMeters returns the great-circle distance between two coordinates
// using the haversine formula.
//
// HAVERSINE:
// a = sin²(Δφ/2) + cos φ1 · cos φ2 · sin²(Δλ/2)
// c = 2 · atan2(√a, √(1−a))
// d = R · c
//
// The result is symmetric and exactly 0 for identical inputs.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push a past 1 for near-antipodal points.
	a = math.Min(a, 1)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Distance is DistanceMeters for two Points.
func Distance(a, b Point) float64 {
	return DistanceMeters(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Viewport is a position inside a rectangular map window, in percent of its
// height (Top) and width (Left).
type Viewport struct {
	Top  float64 `json:"top"`
	Left float64 `json:"left"`
}

// Visible reports whether the position falls on the canvas.
func (v Viewport) Visible() bool {
	return v.Top >= 0 && v.Top <= 100 && v.Left >= 0 && v.Left <= 100
}

// ProjectToViewport linearly maps p into a square window of spanDeg degrees
// centred on center. Latitude grows upward, so the vertical axis is inverted.
//
// There is no clamping: points outside the window produce percentages
// outside [0,100]. Use Viewport.Visible to skip them. A non-positive span
// has no extent, and every point lands on the centre.
func ProjectToViewport(p, center Point, spanDeg float64) Viewport {
	if spanDeg <= 0 {
		return Viewport{Top: 50, Left: 50}
	}
	half := spanDeg / 2
	normLat := (p.Lat - (center.Lat - half)) / spanDeg
	normLon := (p.Lon - (center.Lon - half)) / spanDeg

	return Viewport{
		Top:  100 - normLat*100,
		Left: normLon * 100,
	}
}

// Bounds is a latitude/longitude rectangle.
type Bounds struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Contains reports whether p lies inside b (edges included).
func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// BoundsAround returns the square window of spanDeg degrees centred on center.
// This is the rectangle the map embed shows.
func BoundsAround(center Point, spanDeg float64) Bounds {
	half := spanDeg / 2
	return Bounds{
		MinLat: center.Lat - half,
		MinLon: center.Lon - half,
		MaxLat: center.Lat + half,
		MaxLon: center.Lon + half,
	}
}

// RadiusBounds returns a rectangle that fully contains the circle of
// radiusMeters around center. Stores use it as a cheap index prefilter
// before the exact distance test.
func RadiusBounds(center Point, radiusMeters float64) Bounds {
	dLat := radiusMeters / EarthRadiusMeters * 180 / math.Pi

	cosLat := math.Cos(center.Lat * math.Pi / 180)
	dLon := 180.0
	if cosLat > 1e-9 {
		dLon = math.Min(dLat/cosLat, 180)
	}

	b := Bounds{
		MinLat: math.Max(center.Lat-dLat, -90),
		MinLon: center.Lon - dLon,
		MaxLat: math.Min(center.Lat+dLat, 90),
		MaxLon: center.Lon + dLon,
	}
	// A circle that wraps the antimeridian falls back to every longitude.
	if b.MinLon < -180 || b.MaxLon > 180 {
		b.MinLon, b.MaxLon = -180, 180
	}
	return b
}
