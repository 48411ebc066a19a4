package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	capitolHill = Point{Lat: 47.6169, Lon: -122.3201}
	broadway    = Point{Lat: 47.6148, Lon: -122.3204}
)

func TestDistanceMeters_KnownPair(t *testing.T) {
	got := Distance(capitolHill, broadway)
	assert.InDelta(t, 234, got, 5, "Capitol Hill to Broadway")
}

func TestDistanceMeters_ZeroAndSymmetric(t *testing.T) {
	points := []Point{
		capitolHill,
		broadway,
		{Lat: 0, Lon: 0},
		{Lat: -33.8688, Lon: 151.2093},
		{Lat: 89.9, Lon: 179.9},
		{Lat: -89.9, Lon: -179.9},
	}

	for _, a := range points {
		assert.Zero(t, Distance(a, a), "distance to self for %+v", a)
		for _, b := range points {
			assert.Equal(t, Distance(a, b), Distance(b, a), "symmetry for %+v / %+v", a, b)
			assert.GreaterOrEqual(t, Distance(a, b), 0.0)
		}
	}
}

func TestDistanceMeters_HalfCircumference(t *testing.T) {
	got := DistanceMeters(0, 0, 0, 180)
	assert.InDelta(t, math.Pi*EarthRadiusMeters, got, 1)
}

func TestProjectToViewport(t *testing.T) {
	tests := []struct {
		name     string
		point    Point
		center   Point
		span     float64
		wantTop  float64
		wantLeft float64
	}{
		{"centre, default span", capitolHill, capitolHill, DefaultViewportSpan, 50, 50},
		{"centre, wide span", capitolHill, capitolHill, 10, 50, 50},
		{"centre, tiny span", broadway, broadway, 1e-6, 50, 50},
		{"top-left corner", Point{Lat: 1, Lon: -1}, Point{}, 2, 0, 0},
		{"bottom-right corner", Point{Lat: -1, Lon: 1}, Point{}, 2, 100, 100},
		{"north of window is negative top", Point{Lat: 2, Lon: 0}, Point{}, 2, -50, 50},
		{"east of window exceeds 100", Point{Lat: 0, Lon: 3}, Point{}, 2, 50, 200},
		{"zero span collapses to centre", broadway, capitolHill, 0, 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProjectToViewport(tt.point, tt.center, tt.span)
			assert.InDelta(t, tt.wantTop, got.Top, 1e-6, "top")
			assert.InDelta(t, tt.wantLeft, got.Left, 1e-6, "left")
		})
	}
}

func TestViewportVisible(t *testing.T) {
	assert.True(t, Viewport{Top: 0, Left: 100}.Visible())
	assert.True(t, Viewport{Top: 50, Left: 50}.Visible())
	assert.False(t, Viewport{Top: -0.1, Left: 50}.Visible())
	assert.False(t, Viewport{Top: 50, Left: 100.1}.Visible())
}

func TestBoundsAround(t *testing.T) {
	b := BoundsAround(Point{Lat: 37.7749, Lon: -122.4194}, DefaultViewportSpan)

	assert.InDelta(t, 37.7649, b.MinLat, 1e-9)
	assert.InDelta(t, 37.7849, b.MaxLat, 1e-9)
	assert.InDelta(t, -122.4294, b.MinLon, 1e-9)
	assert.InDelta(t, -122.4094, b.MaxLon, 1e-9)
}

func TestRadiusBounds_ContainsCircle(t *testing.T) {
	b := RadiusBounds(capitolHill, 2000)

	// Points exactly 2 km away along the four compass directions must be inside.
	dLat := 2000 / EarthRadiusMeters * 180 / math.Pi
	dLon := dLat / math.Cos(capitolHill.Lat*math.Pi/180)
	for _, p := range []Point{
		{Lat: capitolHill.Lat + dLat*0.999, Lon: capitolHill.Lon},
		{Lat: capitolHill.Lat - dLat*0.999, Lon: capitolHill.Lon},
		{Lat: capitolHill.Lat, Lon: capitolHill.Lon + dLon*0.999},
		{Lat: capitolHill.Lat, Lon: capitolHill.Lon - dLon*0.999},
	} {
		assert.True(t, b.Contains(p), "%+v should be inside %+v", p, b)
	}
	assert.False(t, b.Contains(Point{Lat: capitolHill.Lat + 2*dLat, Lon: capitolHill.Lon}))
}

func TestRadiusBounds_Antimeridian(t *testing.T) {
	b := RadiusBounds(Point{Lat: 0, Lon: 179.99}, 5000)
	assert.Equal(t, -180.0, b.MinLon)
	assert.Equal(t, 180.0, b.MaxLon)
}

func TestPointValid(t *testing.T) {
	assert.True(t, capitolHill.Valid())
	assert.False(t, Point{Lat: 91}.Valid())
	assert.False(t, Point{Lon: -181}.Valid())
	assert.False(t, Point{Lat: math.NaN()}.Valid())
}
