/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the appointment engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment / .env)
  2. Configure structured logging
  3. Open the store (postgres when DATABASE_URL is set, SQLite otherwise)
  4. Wire the state machine, validators and read models
  5. Start the HTTP server with graceful shutdown

STORE SELECTION:
  DATABASE_URL set   -> store/postgres (pgx pool, advisory booking locks)
  DATABASE_URL empty -> store/sqlite at DB_PATH (":memory:" works for dev)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - appointment/machine.go: The command implementations behind the API
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/visit-engine/api"
	"github.com/warp/visit-engine/appointment"
	"github.com/warp/visit-engine/config"
	"github.com/warp/visit-engine/quota"
	"github.com/warp/visit-engine/schedule"
	"github.com/warp/visit-engine/store/postgres"
	"github.com/warp/visit-engine/store/sqlite"
)

// engineStore is the full interface surface both backends provide.
type engineStore interface {
	appointment.Store
	appointment.Ledger
	schedule.BookingSource
	schedule.HoursSource
	quota.Source
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	detector := &schedule.Detector{Source: store, Timeout: cfg.LookupTimeout}
	resolver := &schedule.Resolver{Hours: store, Bookings: store, Timeout: cfg.LookupTimeout}
	calculator := &quota.Calculator{Source: store, Timeout: cfg.LookupTimeout}

	machine := &appointment.StateMachine{
		Store:     store,
		Ledger:    store,
		Conflicts: detector,
		Quota:     calculator,
		Logger:    logger.With().Str("component", "machine").Logger(),
	}

	handler := api.NewHandler(machine, detector, resolver, calculator,
		logger.With().Str("component", "api").Logger())
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: api.SplitOrigins(cfg.CORSAllowed),
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("forced shutdown")
	}

	logger.Info().Msg("server stopped")
}

func openStore(cfg config.Config) (engineStore, func(), error) {
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}

	s, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}
