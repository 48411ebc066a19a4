// Package server is the composition root: it opens the store, builds the
// services and handlers, and wires them to routes.
//
// DEPENDENCY FLOW:
//
//	config.Config → store (sqlite | postgres)
//	store → DuplicateGuard, NearbyService, VoteLedger
//	services → CodesHandler, MapHandler
//	handlers → chi routes behind the middleware chain
//
// Every dependency is created here and handed down through constructors.
// Nothing below this package reads configuration or globals.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/stallcode/internal/config"
	"github.com/sakif/stallcode/internal/device"
	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/handler"
	"github.com/sakif/stallcode/internal/location"
	"github.com/sakif/stallcode/internal/middleware"
	"github.com/sakif/stallcode/internal/repository"
	"github.com/sakif/stallcode/internal/repository/postgres"
	"github.com/sakif/stallcode/internal/repository/sqlite"
	"github.com/sakif/stallcode/internal/service"
)

// ShutdownTimeout bounds how long in-flight requests may run after a
// shutdown signal.
const ShutdownTimeout = 30 * time.Second

// Store is what the server needs from a concrete store.
type Store interface {
	repository.CodeStore
	handler.Pinger
	Close() error
}

// OpenStore opens the store named by cfg.Driver. SQLite file paths get
// their directory created; postgres gets its schema migrated.
func OpenStore(ctx context.Context, cfg config.Store) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	case "sqlite", "":
		if !strings.Contains(cfg.DSN, "memory") {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Server owns the router, the store and the optional GeoIP database.
type Server struct {
	router http.Handler
	config *config.Config
	logger *slog.Logger
	store  Store
	geoip  *location.GeoIP
}

// New builds a Server around an already opened store. The server takes
// ownership of the store and closes it when Run returns.
func New(cfg *config.Config, store Store, logger *slog.Logger) (*Server, error) {
	s := &Server{config: cfg, logger: logger, store: store}

	if cfg.Location.GeoIPDB != "" {
		g, err := location.OpenGeoIP(cfg.Location.GeoIPDB)
		if err != nil {
			s.closeResources()
			return nil, err
		}
		s.geoip = g
	}

	router, err := s.routes()
	if err != nil {
		s.closeResources()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	s.router = router
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// routes builds the middleware chain and route table.
//
// ROUTES:
//
//	GET  /                          map page
//	POST /codes                     add form
//	POST /codes/{id}/vote           vote form
//	GET  /api/codes                 nearby codes (JSON)
//	POST /api/codes                 add a code (JSON)
//	POST /api/codes/{id}/votes      vote (JSON)
//	GET  /healthz                   liveness
//	GET  /metrics                   Prometheus
//
// /healthz and /metrics skip device identity so probes never get cookies.
func (s *Server) routes() (http.Handler, error) {
	cfg := s.config

	policy, err := service.ParseDuplicatePolicy(cfg.Duplicate.Policy)
	if err != nil {
		return nil, err
	}
	tokens, err := device.NewTokenService(cfg.Device.Secret)
	if err != nil {
		return nil, err
	}

	devices := device.ContextProvider{}
	guard := service.NewDuplicateGuard(s.store, policy, s.logger)
	nearby := service.NewNearbyService(s.store, guard, devices, service.NearbyOptions{
		DefaultRadius: cfg.Nearby.DefaultRadius,
		MaxRadius:     cfg.Nearby.MaxRadius,
	}, s.logger)
	ledger := service.NewVoteLedger(s.store, devices, s.logger)

	locator := location.NewResolver(geo.Point{Lat: cfg.Location.FallbackLat, Lon: cfg.Location.FallbackLon}, s.logger)
	maps, err := handler.NewMapHandler(nearby, ledger, locator, s.geoip, s.logger)
	if err != nil {
		return nil, err
	}
	codes := handler.NewCodesHandler(nearby, ledger, s.logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics)

	r.Get("/healthz", handler.HandleHealth(s.store))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(device.Middleware(tokens, device.CookieOptions{
			Name:    cfg.Device.CookieName,
			Secure:  cfg.HTTP.CookieSecure,
			OnError: handler.WriteError,
		}, s.logger))

		r.Get("/", maps.HandleMap)
		r.Post("/codes", maps.HandleAddForm)
		r.Post("/codes/{id}/vote", maps.HandleVoteForm)

		r.Route("/api", func(r chi.Router) {
			r.Get("/codes", codes.HandleList)
			r.Post("/codes", codes.HandleCreate)
			r.Post("/codes/{id}/votes", codes.HandleVote)
		})
	})

	return r, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully:
//  1. stop accepting connections
//  2. wait up to ShutdownTimeout for in-flight requests
//  3. close the store and GeoIP database
func (s *Server) Run(ctx context.Context) error {
	defer s.closeResources()

	srv := &http.Server{
		Addr:         s.config.HTTP.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("store", s.config.Store.Driver),
			slog.Bool("geoip", s.geoip != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

func (s *Server) closeResources() {
	if s.geoip != nil {
		if err := s.geoip.Close(); err != nil {
			s.logger.Warn("closing GeoIP database", slog.String("error", err.Error()))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing store", slog.String("error", err.Error()))
	}
}
