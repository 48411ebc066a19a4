package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/stallcode/internal/config"
	"github.com/sakif/stallcode/internal/device"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Device.Secret = "server-test-secret-0123"
	cfg.Store.DSN = ":memory:"
	return &cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := testConfig()
	store, err := OpenStore(context.Background(), cfg.Store)
	require.NoError(t, err)

	srv, err := New(cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(srv.closeResources)
	return srv
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.Store{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestNew_MissingGeoIPDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.Location.GeoIPDB = t.TempDir() + "/missing.mmdb"
	store, err := OpenStore(context.Background(), cfg.Store)
	require.NoError(t, err)

	_, err = New(cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	// Probes never get a device cookie.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	// A browser visiting the page gets one.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?lat=47.6169&lon=-122.3201", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "stallcode_device", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// The JSON API goes all the way to sqlite.
	req := httptest.NewRequest(http.MethodPost, "/api/codes",
		strings.NewReader(`{"code":"1357","latitude":47.6173,"longitude":-122.3195}`))
	req.Header.Set(device.HeaderName, "device_server_test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/codes?lat=47.6169&lon=-122.3201", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"1357"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stallcode_codes_added_total")
	assert.Contains(t, rec.Body.String(), `route="/api/codes"`)
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv := newTestServer(t)
	srv.config.HTTP.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
