package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/stallcode/internal/device"
	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/location"
	"github.com/sakif/stallcode/internal/model"
	"github.com/sakif/stallcode/internal/repository/memory"
	"github.com/sakif/stallcode/internal/service"
)

// =========================================================================
// TEST HELPERS
// =========================================================================

var capitolHill = geo.Point{Lat: 47.6169, Lon: -122.3201}

type testServer struct {
	store  *memory.Store
	router http.Handler
}

// newTestServer wires the handlers over an in-memory store the same way
// internal/server does. Requests pick their device with the X-Device-ID
// header.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()

	devices := device.ContextProvider{}
	guard := service.NewDuplicateGuard(store, service.PolicyAdvisory, logger)
	nearby := service.NewNearbyService(store, guard, devices, service.NearbyOptions{}, logger)
	ledger := service.NewVoteLedger(store, devices, logger)

	maps, err := NewMapHandler(nearby, ledger, location.NewResolver(location.DefaultFallback, logger), nil, logger)
	require.NoError(t, err)
	codes := NewCodesHandler(nearby, ledger, logger)

	tokens, err := device.NewTokenService("handler-test-secret-0123")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(device.Middleware(tokens, device.CookieOptions{Name: "stallcode_device", OnError: WriteError}, logger))
	r.Get("/", maps.HandleMap)
	r.Post("/codes", maps.HandleAddForm)
	r.Post("/codes/{id}/vote", maps.HandleVoteForm)
	r.Get("/api/codes", codes.HandleList)
	r.Post("/api/codes", codes.HandleCreate)
	r.Post("/api/codes/{id}/votes", codes.HandleVote)
	r.Get("/healthz", HandleHealth(nil))

	return &testServer{store: store, router: r}
}

func (s *testServer) do(t *testing.T, deviceID, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if deviceID != "" {
		req.Header.Set(device.HeaderName, deviceID)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) form(t *testing.T, deviceID, target string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(device.HeaderName, deviceID)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// seedCode stores a code directly, owned by deviceID.
func (s *testServer) seedCode(t *testing.T, deviceID, code string, at geo.Point) *model.Code {
	t.Helper()
	c := &model.Code{Code: code, Latitude: at.Lat, Longitude: at.Lon, DeviceID: deviceID}
	require.NoError(t, s.store.InsertCode(context.Background(), c))
	return c
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

// =========================================================================
// JSON API
// =========================================================================

func TestBadDeviceHeaderUsesErrorShape(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "not a device id", http.MethodGet, "/api/codes?lat=47.6169&lon=-122.3201", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeError(t, rec)
	assert.Equal(t, "validation_error", body.Error)
	assert.Equal(t, device.HeaderName, body.Field)
}

func TestHandleList(t *testing.T) {
	s := newTestServer(t)
	s.seedCode(t, "device_owner", "far", geo.Point{Lat: 47.6250, Lon: -122.3201})
	s.seedCode(t, "device_owner", "near", geo.Point{Lat: 47.6170, Lon: -122.3201})
	s.seedCode(t, "device_owner", "tokyo", geo.Point{Lat: 35.6762, Lon: 139.6503})

	rec := s.do(t, "device_a", http.MethodGet, "/api/codes?lat=47.6169&lon=-122.3201&radius=2000", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body nearbyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, capitolHill, body.Center)
	assert.Equal(t, 2000.0, body.Radius)
	require.Len(t, body.Codes, 2)
	assert.Equal(t, "near", body.Codes[0].Code)
	require.NotNil(t, body.Codes[0].Distance)
	assert.Less(t, *body.Codes[0].Distance, *body.Codes[1].Distance)
}

func TestHandleList_DefaultRadiusAndEmptyList(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "device_a", http.MethodGet, "/api/codes?lat=0&lon=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"center":{"latitude":0,"longitude":0},"radius":1000,"codes":[]}`, rec.Body.String())
}

func TestHandleList_StoreDownIsEmpty(t *testing.T) {
	s := newTestServer(t)
	s.store.FailOn("FindWithinRadius", errors.New("offline"))

	rec := s.do(t, "device_a", http.MethodGet, "/api/codes?lat=47.6&lon=-122.3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"codes":[]`)
}

func TestHandleList_BadInput(t *testing.T) {
	s := newTestServer(t)
	for _, q := range []string{"", "lat=47.6", "lat=abc&lon=1", "lat=95&lon=0", "lat=1&lon=1&radius=far"} {
		rec := s.do(t, "device_a", http.MethodGet, "/api/codes?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, "validation_error", decodeError(t, rec).Error, q)
	}
}

func TestHandleCreate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "device_a", http.MethodPost, "/api/codes",
		`{"code":" 1234# ","description":"side door","latitude":47.6169,"longitude":-122.3201}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got model.Code
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "1234#", got.Code)
	assert.Equal(t, "device_a", got.DeviceID)
	assert.Zero(t, got.VoteScore)
	assert.Nil(t, got.Distance)
}

func TestHandleCreate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, s *testServer)
		body   string
		status int
		kind   string
		field  string
	}{
		{
			name:   "malformed json",
			body:   `{"code":`,
			status: http.StatusBadRequest, kind: "validation_error",
		},
		{
			name:   "missing latitude",
			body:   `{"code":"1234","longitude":-122.3}`,
			status: http.StatusBadRequest, kind: "validation_error", field: "latitude",
		},
		{
			name:   "longitude out of range",
			body:   `{"code":"1234","latitude":47.6,"longitude":-190}`,
			status: http.StatusBadRequest, kind: "validation_error", field: "longitude",
		},
		{
			name:   "code too long",
			body:   `{"code":"12345678901","latitude":47.6,"longitude":-122.3}`,
			status: http.StatusBadRequest, kind: "validation_error", field: "code",
		},
		{
			name: "duplicate",
			setup: func(t *testing.T, s *testServer) {
				s.seedCode(t, "device_b", "1234", capitolHill)
			},
			body:   `{"code":"1234","latitude":47.6169,"longitude":-122.3201}`,
			status: http.StatusConflict, kind: "duplicate", field: "code",
		},
		{
			name: "store down",
			setup: func(_ *testing.T, s *testServer) {
				s.store.FailOn("InsertCode", errors.New("disk full"))
			},
			body:   `{"code":"1234","latitude":47.6169,"longitude":-122.3201}`,
			status: http.StatusServiceUnavailable, kind: "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			if tt.setup != nil {
				tt.setup(t, s)
			}

			rec := s.do(t, "device_a", http.MethodPost, "/api/codes", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			body := decodeError(t, rec)
			assert.Equal(t, tt.kind, body.Error)
			assert.Equal(t, tt.field, body.Field)
			assert.NotEmpty(t, body.Message)
			assert.NotContains(t, body.Message, "disk full", "causes stay in the logs")
		})
	}
}

func TestHandleVote(t *testing.T) {
	s := newTestServer(t)
	c := s.seedCode(t, "device_owner", "1234", capitolHill)
	target := "/api/codes/" + c.ID + "/votes"

	rec := s.do(t, "device_voter", http.MethodPost, target, `{"value":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"up","changed":true,"score":1}`, rec.Body.String())

	rec = s.do(t, "device_voter", http.MethodPost, target, `{"value":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"up","changed":false,"score":1}`, rec.Body.String())

	rec = s.do(t, "device_voter", http.MethodPost, target, `{"value":-1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"down","changed":true,"score":-1}`, rec.Body.String())
}

func TestHandleVote_Errors(t *testing.T) {
	s := newTestServer(t)
	c := s.seedCode(t, "device_owner", "1234", capitolHill)

	tests := []struct {
		name     string
		deviceID string
		target   string
		body     string
		status   int
		kind     string
	}{
		{"self vote", "device_owner", "/api/codes/" + c.ID + "/votes", `{"value":1}`, http.StatusForbidden, "self_vote"},
		{"unknown code", "device_voter", "/api/codes/nope/votes", `{"value":1}`, http.StatusNotFound, "not_found"},
		{"zero value", "device_voter", "/api/codes/" + c.ID + "/votes", `{"value":0}`, http.StatusBadRequest, "validation_error"},
		{"value two", "device_voter", "/api/codes/" + c.ID + "/votes", `{"value":2}`, http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.deviceID, http.MethodPost, tt.target, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decodeError(t, rec).Error)
		})
	}
}

func TestHandleVote_StoreDown(t *testing.T) {
	s := newTestServer(t)
	c := s.seedCode(t, "device_owner", "1234", capitolHill)
	s.store.FailOn("RecomputeScore", errors.New("connection reset"))

	rec := s.do(t, "device_voter", http.MethodPost, "/api/codes/"+c.ID+"/votes", `{"value":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decodeError(t, rec).Error)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "", http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HandleHealth(failingPinger{})(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("down") }
