package location

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/sakif/stallcode/internal/geo"
)

// CityLookup is the part of *geoip2.Reader GeoIP needs.
type CityLookup interface {
	City(ip net.IP) (*geoip2.City, error)
}

// GeoIP estimates a position from the client address using a MaxMind
// GeoLite2-City database. The reader is safe for concurrent lookups.
type GeoIP struct {
	db     CityLookup
	closer func() error
}

// OpenGeoIP opens the database at path.
func OpenGeoIP(path string) (*GeoIP, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("location: opening GeoIP database: %w", err)
	}
	return &GeoIP{db: reader, closer: reader.Close}, nil
}

// NewGeoIP wraps an existing lookup.
func NewGeoIP(db CityLookup) *GeoIP {
	return &GeoIP{db: db}
}

// Close releases the database.
func (g *GeoIP) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

// ForAddr returns a Provider for one client address. addr may be a bare IP
// or host:port as found in http.Request.RemoteAddr. Its positions are
// city-level estimates (SourceEstimate).
func (g *GeoIP) ForAddr(addr string) Provider {
	return addrProvider{geoip: g, addr: addr}
}

type addrProvider struct {
	geoip *GeoIP
	addr  string
}

func (p addrProvider) CurrentPosition(ctx context.Context) (geo.Point, error) {
	return p.geoip.lookup(ctx, p.addr)
}

func (addrProvider) Source() Source { return SourceEstimate }

func (g *GeoIP) lookup(ctx context.Context, addr string) (geo.Point, error) {
	if err := ctx.Err(); err != nil {
		return geo.Point{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return geo.Point{}, ErrPositionUnavailable
	}

	rec, err := g.db.City(ip)
	if err != nil {
		return geo.Point{}, fmt.Errorf("%w: geoip: %v", ErrPositionUnavailable, err)
	}
	pt := geo.Point{Lat: rec.Location.Latitude, Lon: rec.Location.Longitude}
	// MaxMind reports 0,0 for addresses it cannot place.
	if pt.Lat == 0 && pt.Lon == 0 {
		return geo.Point{}, ErrPositionUnavailable
	}
	return pt, nil
}
