// Package location answers "where is the user?" for the map page.
//
// A position can come from several places: the browser (reported back as
// query parameters), a GeoIP lookup of the request address, or nothing at
// all. Resolver tries them in order and, when every source fails, falls
// back to a fixed map centre and marks the result as degraded so the page
// can explain why.
//
// Only a position the device reported itself is good enough to file a new
// code at. GeoIP estimates and the fallback centre are for display only;
// see Fix.Precise.
package location

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/metrics"
)

// Location failure kinds. The first three match the browser Geolocation
// API error codes 1, 2 and 3.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("location request timed out")
	ErrUnknown             = errors.New("location unknown")
)

// Browser Geolocation API error codes.
const (
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// FallbackNotice is appended to every degraded-mode message.
const FallbackNotice = "Meanwhile, we're showing a default location map."

// ApproximateNotice is appended when the device failed but an estimate
// (GeoIP) stood in for it.
const ApproximateNotice = "Meanwhile, we're showing your approximate area."

// DefaultFallback is the map centre used when no position is available.
var DefaultFallback = geo.Point{Lat: 37.7749, Lon: -122.4194}

// Provider produces the current position.
type Provider interface {
	CurrentPosition(ctx context.Context) (geo.Point, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (geo.Point, error)

func (f ProviderFunc) CurrentPosition(ctx context.Context) (geo.Point, error) { return f(ctx) }

// Source says where a Fix came from.
type Source int

const (
	SourceUnknown Source = iota
	// SourceDevice is a position reported by the device: the browser or
	// explicit coordinates.
	SourceDevice
	// SourceEstimate is an estimate, e.g. from the client IP.
	SourceEstimate
	// SourceFallback is the configured default centre.
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceDevice:
		return "device"
	case SourceEstimate:
		return "estimate"
	case SourceFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// sourced is implemented by providers that know what kind of position
// they produce. Providers without it count as SourceDevice.
type sourced interface {
	Source() Source
}

func sourceOf(p Provider) Source {
	if s, ok := p.(sourced); ok {
		return s.Source()
	}
	return SourceDevice
}

// FromBrowserCode maps a Geolocation API error code to an error kind.
// Unrecognised codes map to ErrUnknown.
func FromBrowserCode(code int) error {
	switch code {
	case CodePermissionDenied:
		return ErrPermissionDenied
	case CodePositionUnavailable:
		return ErrPositionUnavailable
	case CodeTimeout:
		return ErrTimeout
	default:
		return ErrUnknown
	}
}

// Kind reduces any error to one of the four location kinds.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermissionDenied):
		return ErrPermissionDenied
	case errors.Is(err, ErrPositionUnavailable):
		return ErrPositionUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return ErrUnknown
	}
}

// Message is the user-facing explanation for a location failure.
func Message(err error) string {
	switch Kind(err) {
	case ErrPermissionDenied:
		return "Location permission denied. To enable, check your browser settings and allow location access for this site."
	case ErrPositionUnavailable:
		return "Your location is currently unavailable. Please try again later."
	case ErrTimeout:
		return "Location request timed out. Please check your connection and try again."
	default:
		return "Unable to retrieve your location. Please enable location services in your browser settings."
	}
}

// reason is the metrics label for a failure kind.
func reason(err error) string {
	switch Kind(err) {
	case ErrPermissionDenied:
		return "permission_denied"
	case ErrPositionUnavailable:
		return "unavailable"
	case ErrTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// =========================================================================
// CLIENT-REPORTED POSITION
// =========================================================================

// Reported is what a client said about its position: either a point or a
// browser error code.
type Reported struct {
	Point   *geo.Point
	ErrCode int
}

// ParseReported reads the lat, lon and err query values. Missing or
// malformed coordinates leave Point nil.
func ParseReported(lat, lon, errCode string) Reported {
	var r Reported
	if c, err := strconv.Atoi(strings.TrimSpace(errCode)); err == nil && c != 0 {
		r.ErrCode = c
		return r
	}
	la, errLat := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	lo, errLon := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if errLat == nil && errLon == nil {
		r.Point = &geo.Point{Lat: la, Lon: lo}
	}
	return r
}

// CurrentPosition implements Provider.
func (r Reported) CurrentPosition(context.Context) (geo.Point, error) {
	if r.ErrCode != 0 {
		return geo.Point{}, FromBrowserCode(r.ErrCode)
	}
	if r.Point == nil || !r.Point.Valid() {
		return geo.Point{}, ErrPositionUnavailable
	}
	return *r.Point, nil
}

// =========================================================================
// RESOLVER
// =========================================================================

// Fix is a resolved map centre.
type Fix struct {
	Point    geo.Point
	Source   Source
	Degraded bool  // true when Point is the fallback
	Err      error // kind of the first failure, even if a later provider succeeded
}

// Precise reports whether the device itself supplied Point. Only precise
// fixes may be used as the location of a new code.
func (f Fix) Precise() bool {
	return f.Source == SourceDevice && !f.Degraded
}

// Message returns the banner text: the first failure plus what is shown
// instead. It is "" when nothing failed.
func (f Fix) Message() string {
	switch {
	case f.Err == nil:
		return ""
	case f.Degraded:
		return Message(f.Err) + " " + FallbackNotice
	default:
		return Message(f.Err) + " " + ApproximateNotice
	}
}

// Resolver picks the first provider that yields a position.
type Resolver struct {
	fallback geo.Point
	logger   *slog.Logger
}

// NewResolver creates a Resolver. An invalid fallback is replaced by
// DefaultFallback.
func NewResolver(fallback geo.Point, logger *slog.Logger) *Resolver {
	if !fallback.Valid() {
		fallback = DefaultFallback
	}
	return &Resolver{fallback: fallback, logger: logger}
}

// Fallback returns the configured fallback centre.
func (r *Resolver) Fallback() geo.Point { return r.fallback }

// Resolve asks each provider in turn. Nil providers are skipped. The kind
// of the first failure is kept on the Fix even when a later provider
// succeeds. When none succeeds the fallback is returned with Degraded set.
func (r *Resolver) Resolve(ctx context.Context, providers ...Provider) Fix {
	var first error
	for _, p := range providers {
		if p == nil {
			continue
		}
		pt, err := p.CurrentPosition(ctx)
		if err == nil && pt.Valid() {
			fix := Fix{Point: pt, Source: sourceOf(p)}
			if first != nil {
				fix.Err = Kind(first)
			}
			return fix
		}
		if err == nil {
			err = ErrPositionUnavailable
		}
		if first == nil {
			first = err
		}
		r.logger.Debug("location provider failed", slog.String("error", err.Error()))
	}
	if first == nil {
		first = ErrPositionUnavailable
	}

	kind := Kind(first)
	metrics.LocationFallbacks.WithLabelValues(reason(kind)).Inc()
	r.logger.Info("using fallback location",
		slog.String("reason", reason(kind)),
		slog.Float64("lat", r.fallback.Lat),
		slog.Float64("lon", r.fallback.Lon),
	)
	return Fix{Point: r.fallback, Source: SourceFallback, Degraded: true, Err: kind}
}
