package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/stallcode/internal/apperror"
	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/model"
	"github.com/sakif/stallcode/internal/service"
)

// CodesHandler serves the JSON API for codes and votes.
//
// The device behind each request is resolved by device.Middleware; the
// services read it from the request context.
type CodesHandler struct {
	nearby *service.NearbyService
	ledger *service.VoteLedger
	logger *slog.Logger
}

// NewCodesHandler creates a CodesHandler.
func NewCodesHandler(nearby *service.NearbyService, ledger *service.VoteLedger, logger *slog.Logger) *CodesHandler {
	return &CodesHandler{nearby: nearby, ledger: ledger, logger: logger}
}

type nearbyResponse struct {
	Center geo.Point    `json:"center"`
	Radius float64      `json:"radius"`
	Codes  []model.Code `json:"codes"`
}

// HandleList returns the codes around a point, nearest first.
//
// HTTP: GET /api/codes?lat=47.61&lon=-122.32&radius=1000
//
// radius is optional. A store outage is not an error here: the list is
// simply empty.
func (h *CodesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	center, err := parsePoint(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, err)
		return
	}

	radius := 0.0
	if raw := q.Get("radius"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, apperror.ValidationFailed("radius", "radius must be a number"))
			return
		}
	}
	radius = h.nearby.Radius(radius)

	writeJSON(w, http.StatusOK, nearbyResponse{
		Center: center,
		Radius: radius,
		Codes:  h.nearby.Query(r.Context(), center, radius),
	})
}

type createCodeRequest struct {
	Code        string   `json:"code"        validate:"required"`
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude"    validate:"required,latitude"`
	Longitude   *float64 `json:"longitude"   validate:"required,longitude"`
}

// HandleCreate stores a new code.
//
// HTTP: POST /api/codes
// REQUEST BODY: {"code": "1234#", "description": "side door", "latitude": 47.61, "longitude": -122.32}
//
// 201 with the stored record, 400 on bad input, 409 for a likely
// duplicate, 503 when the store is down.
func (h *CodesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.nearby.AddCode(r.Context(), model.NewCode{
		Code:        req.Code,
		Description: req.Description,
		Latitude:    *req.Latitude,
		Longitude:   *req.Longitude,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type voteRequest struct {
	Value int `json:"value" validate:"required,oneof=-1 1"`
}

// HandleVote casts the device's vote on a code.
//
// HTTP: POST /api/codes/{id}/votes
// REQUEST BODY: {"value": 1}
// RESPONSE: {"state": "up", "changed": true, "score": 3}
func (h *CodesHandler) HandleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.ledger.CastVote(r.Context(), chi.URLParam(r, "id"), req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parsePoint reads a required coordinate pair.
func parsePoint(lat, lon string) (geo.Point, error) {
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return geo.Point{}, apperror.ValidationFailed("lat", "lat is required and must be a number")
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return geo.Point{}, apperror.ValidationFailed("lon", "lon is required and must be a number")
	}
	p := geo.Point{Lat: la, Lon: lo}
	if !p.Valid() {
		return geo.Point{}, apperror.ValidationFailed("lat", "coordinates are out of range")
	}
	return p, nil
}
