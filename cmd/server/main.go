// Package main is the entry point for the stallcode web server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (config file, .env, environment variables)
// 2. Create dependencies (logger, store)
// 3. Start the application and stop it on a signal
//
// All actual logic lives in imported packages (internal/server, internal/handler, etc.).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
// This project has two: cmd/server (the web map and JSON API) and
// cmd/stallcode (the terminal client). Each gets its own directory.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/stallcode/internal/config"
	"github.com/sakif/stallcode/internal/logging"
	"github.com/sakif/stallcode/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// Defaults < YAML file < .env next to it < STALLCODE_* environment.
	// Example: STALLCODE_HTTP__PORT=9090 STALLCODE_DEVICE__SECRET=$(openssl rand -hex 32)
	configPath := flag.String("config", os.Getenv("STALLCODE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet, so fall back to the default one.
		slog.Error("loading config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		slog.Error("setting up logging", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	// === 3. STOP ON CTRL+C OR SIGTERM ===
	// The context is cancelled on the first signal; Run then drains requests.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		logCloser.Close()
		os.Exit(1)
	}
}

// run opens the store and serves until ctx is done. Split from main so
// deferred cleanup runs before os.Exit.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := server.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	// New owns the store from here and closes it when Run returns.
	srv, err := server.New(cfg, store, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
