package location

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/stallcode/internal/geo"
)

var capitolHill = geo.Point{Lat: 47.6169, Lon: -122.3201}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFromBrowserCode(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{1, ErrPermissionDenied},
		{2, ErrPositionUnavailable},
		{3, ErrTimeout},
		{0, ErrUnknown},
		{99, ErrUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FromBrowserCode(tt.code), "code %d", tt.code)
	}
}

func TestMessage(t *testing.T) {
	assert.Contains(t, Message(ErrPermissionDenied), "allow location access")
	assert.Contains(t, Message(ErrPositionUnavailable), "currently unavailable")
	assert.Contains(t, Message(ErrTimeout), "timed out")
	assert.Contains(t, Message(errors.New("boom")), "Unable to retrieve your location")
	assert.Equal(t, Message(ErrTimeout), Message(context.DeadlineExceeded))
}

func TestParseReported(t *testing.T) {
	r := ParseReported("47.6169", "-122.3201", "")
	require.NotNil(t, r.Point)
	assert.Equal(t, capitolHill, *r.Point)

	r = ParseReported("47.6", "-122.3", "1")
	assert.Nil(t, r.Point, "an error code wins over coordinates")
	assert.Equal(t, 1, r.ErrCode)

	r = ParseReported("north", "", "")
	assert.Nil(t, r.Point)
	assert.Zero(t, r.ErrCode)
}

func TestReported_CurrentPosition(t *testing.T) {
	ctx := context.Background()

	pt, err := Reported{Point: &capitolHill}.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, capitolHill, pt)

	_, err = Reported{ErrCode: 3}.CurrentPosition(ctx)
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = Reported{}.CurrentPosition(ctx)
	assert.ErrorIs(t, err, ErrPositionUnavailable)

	_, err = Reported{Point: &geo.Point{Lat: 120}}.CurrentPosition(ctx)
	assert.ErrorIs(t, err, ErrPositionUnavailable)
}

func TestResolve_FirstSuccessWins(t *testing.T) {
	r := NewResolver(DefaultFallback, testLogger())
	second := geo.Point{Lat: 1, Lon: 1}

	fix := r.Resolve(context.Background(),
		nil,
		Reported{ErrCode: 1},
		Reported{Point: &capitolHill},
		Reported{Point: &second},
	)
	assert.False(t, fix.Degraded)
	assert.Equal(t, capitolHill, fix.Point)
	assert.Equal(t, SourceDevice, fix.Source)
	assert.True(t, fix.Precise())

	// The earlier failure is still reported.
	assert.ErrorIs(t, fix.Err, ErrPermissionDenied)
	assert.Contains(t, fix.Message(), "permission denied")
	assert.NotContains(t, fix.Message(), FallbackNotice)
}

func TestResolve_CleanSuccessHasNoMessage(t *testing.T) {
	fix := NewResolver(DefaultFallback, testLogger()).Resolve(context.Background(), Reported{Point: &capitolHill})
	assert.NoError(t, fix.Err)
	assert.Empty(t, fix.Message())
	assert.True(t, fix.Precise())
}

func TestResolve_EstimateAfterDeviceFailure(t *testing.T) {
	g := NewGeoIP(fakeCities{"203.0.113.7": capitolHill})
	fix := NewResolver(DefaultFallback, testLogger()).Resolve(context.Background(),
		Reported{ErrCode: CodePermissionDenied},
		g.ForAddr("203.0.113.7:443"),
	)

	assert.Equal(t, capitolHill, fix.Point)
	assert.Equal(t, SourceEstimate, fix.Source)
	assert.False(t, fix.Degraded)
	assert.False(t, fix.Precise(), "GeoIP is display only")
	assert.ErrorIs(t, fix.Err, ErrPermissionDenied)
	assert.Equal(t, Message(ErrPermissionDenied)+" "+ApproximateNotice, fix.Message())
}

func TestResolve_FallbackCarriesFirstError(t *testing.T) {
	r := NewResolver(geo.Point{}, testLogger())
	assert.Equal(t, geo.Point{}, r.Fallback(), "0,0 is a valid point")

	r = NewResolver(geo.Point{Lat: 200}, testLogger())
	assert.Equal(t, DefaultFallback, r.Fallback())

	fix := r.Resolve(context.Background(), Reported{ErrCode: 1}, Reported{ErrCode: 3})
	assert.True(t, fix.Degraded)
	assert.Equal(t, DefaultFallback, fix.Point)
	assert.Equal(t, SourceFallback, fix.Source)
	assert.False(t, fix.Precise())
	assert.ErrorIs(t, fix.Err, ErrPermissionDenied)
	assert.Contains(t, fix.Message(), "permission denied")
	assert.Contains(t, fix.Message(), FallbackNotice)
}

func TestResolve_NoProviders(t *testing.T) {
	fix := NewResolver(DefaultFallback, testLogger()).Resolve(context.Background())
	assert.True(t, fix.Degraded)
	assert.ErrorIs(t, fix.Err, ErrPositionUnavailable)
}

// =========================================================================
// GEOIP
// =========================================================================

type fakeCities map[string]geo.Point

func (f fakeCities) City(ip net.IP) (*geoip2.City, error) {
	pt, ok := f[ip.String()]
	if !ok {
		return nil, errors.New("address not found")
	}
	c := &geoip2.City{}
	c.Location.Latitude = pt.Lat
	c.Location.Longitude = pt.Lon
	return c, nil
}

func TestGeoIP(t *testing.T) {
	g := NewGeoIP(fakeCities{
		"203.0.113.7":  capitolHill,
		"198.51.100.1": {},
	})
	defer g.Close()
	ctx := context.Background()

	pt, err := g.ForAddr("203.0.113.7:52100").CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, capitolHill, pt)

	pt, err = g.ForAddr("203.0.113.7").CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, capitolHill, pt)

	for _, addr := range []string{"127.0.0.1:80", "10.0.0.4", "not-an-ip", "198.51.100.1", "192.0.2.200"} {
		_, err := g.ForAddr(addr).CurrentPosition(ctx)
		assert.ErrorIs(t, err, ErrPositionUnavailable, addr)
	}
}

func TestGeoIP_CancelledContextIsTimeout(t *testing.T) {
	g := NewGeoIP(fakeCities{"203.0.113.7": capitolHill})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.ForAddr("203.0.113.7").CurrentPosition(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestOpenGeoIP_MissingFile(t *testing.T) {
	_, err := OpenGeoIP(t.TempDir() + "/missing.mmdb")
	assert.Error(t, err)
}
