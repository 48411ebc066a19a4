package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sakif/stallcode/internal/apperror"
	"github.com/sakif/stallcode/internal/device"
	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/metrics"
	"github.com/sakif/stallcode/internal/model"
	"github.com/sakif/stallcode/internal/repository"
)

// Radius defaults, in metres.
const (
	DefaultRadiusMeters    = 1000.0
	DefaultMaxRadiusMeters = 10000.0
)

// NearbyOptions tunes query radii.
type NearbyOptions struct {
	DefaultRadius float64 // used when the caller passes <= 0
	MaxRadius     float64 // larger requests are clamped to this
}

// NearbyService answers "what codes are around me?" and accepts new codes.
// It is stateless; Resolver adds a per-client result set on top.
type NearbyService struct {
	store   repository.CodeStore
	guard   *DuplicateGuard
	devices device.Provider
	opts    NearbyOptions
	logger  *slog.Logger
}

// NewNearbyService creates a NearbyService. Zero options fall back to the
// package defaults.
func NewNearbyService(store repository.CodeStore, guard *DuplicateGuard, devices device.Provider, opts NearbyOptions, logger *slog.Logger) *NearbyService {
	if opts.DefaultRadius <= 0 {
		opts.DefaultRadius = DefaultRadiusMeters
	}
	if opts.MaxRadius <= 0 {
		opts.MaxRadius = DefaultMaxRadiusMeters
	}
	if opts.DefaultRadius > opts.MaxRadius {
		opts.DefaultRadius = opts.MaxRadius
	}
	return &NearbyService{
		store:   store,
		guard:   guard,
		devices: devices,
		opts:    opts,
		logger:  logger,
	}
}

// Radius normalises a requested radius: non-positive means the default,
// anything above MaxRadius is clamped.
func (s *NearbyService) Radius(requested float64) float64 {
	switch {
	case requested <= 0:
		return s.opts.DefaultRadius
	case requested > s.opts.MaxRadius:
		return s.opts.MaxRadius
	default:
		return requested
	}
}

// Query returns the codes within radius of center, each with Distance set,
// sorted nearest first. Equal distances keep store order.
//
// Discovery is best-effort: a store failure is logged and produces an
// empty, non-nil slice instead of an error.
func (s *NearbyService) Query(ctx context.Context, center geo.Point, radius float64) []model.Code {
	radius = s.Radius(radius)

	codes, err := s.store.FindWithinRadius(ctx, center, radius)
	if err != nil {
		metrics.NearbyQueries.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		s.logger.Error("nearby query failed",
			slog.Float64("lat", center.Lat),
			slog.Float64("lon", center.Lon),
			slog.Float64("radius", radius),
			slog.String("error", err.Error()),
		)
		return []model.Code{}
	}

	for i := range codes {
		codes[i].WithDistanceFrom(center)
	}
	SortByDistance(codes)

	metrics.NearbyQueries.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.NearbyResults.Observe(float64(len(codes)))
	return codes
}

// AddCode validates and stores a new code submitted at the candidate's
// location. The returned record carries the store-assigned ID and
// timestamp, a zero score and the submitting device, but no Distance.
//
// Errors:
//   - apperror.ErrValidation: empty or too long code, too long description,
//     coordinates out of range (no store call is made)
//   - apperror.ErrDuplicate: the same code exists within DuplicateRadiusMeters
//   - apperror.ErrUnavailable: the store or device identity failed
func (s *NearbyService) AddCode(ctx context.Context, candidate model.NewCode) (*model.Code, error) {
	rec, err := s.addCode(ctx, candidate)
	metrics.CodesAdded.WithLabelValues(addOutcome(err)).Inc()
	return rec, err
}

func (s *NearbyService) addCode(ctx context.Context, candidate model.NewCode) (*model.Code, error) {
	code := strings.TrimSpace(candidate.Code)
	description := strings.TrimSpace(candidate.Description)

	if code == "" {
		return nil, apperror.ValidationFailed("code", "code is required")
	}
	if utf8.RuneCountInString(code) > model.MaxCodeLength {
		return nil, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", model.MaxCodeLength))
	}
	if utf8.RuneCountInString(description) > model.MaxDescriptionLength {
		return nil, apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", model.MaxDescriptionLength))
	}
	at := candidate.Point()
	if !at.Valid() {
		return nil, apperror.ValidationFailed("latitude", "location is out of range")
	}

	dup, err := s.guard.IsDuplicate(ctx, code, at)
	if err != nil {
		return nil, err
	}
	if dup {
		s.logger.Info("duplicate code rejected",
			slog.String("code", code),
			slog.Float64("lat", at.Lat),
			slog.Float64("lon", at.Lon),
		)
		return nil, apperror.Duplicate(code, DuplicateRadiusMeters)
	}

	deviceID, err := s.devices.DeviceID(ctx)
	if err != nil {
		return nil, s.unavailable(err)
	}

	rec := &model.Code{
		Code:        code,
		Description: description,
		Latitude:    at.Lat,
		Longitude:   at.Lon,
		DeviceID:    deviceID,
	}
	if err := s.store.InsertCode(ctx, rec); err != nil {
		return nil, s.unavailable(err)
	}

	s.logger.Info("code added",
		slog.String("id", rec.ID),
		slog.Float64("lat", rec.Latitude),
		slog.Float64("lon", rec.Longitude),
	)
	return rec, nil
}

func (s *NearbyService) unavailable(err error) error {
	if errors.Is(err, apperror.ErrUnavailable) {
		return err
	}
	s.logger.Error("failed to add code", slog.String("error", err.Error()))
	return apperror.Unavailable("adding code", err)
}

func addOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, apperror.ErrDuplicate):
		return metrics.OutcomeDuplicate
	case errors.Is(err, apperror.ErrValidation):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeUnavailable
	}
}

// SortByDistance orders codes nearest first, keeping the existing order
// for equal distances. Codes without a Distance go last.
func SortByDistance(codes []model.Code) {
	sort.SliceStable(codes, func(i, j int) bool {
		di, dj := codes[i].Distance, codes[j].Distance
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return *di < *dj
		}
	})
}
