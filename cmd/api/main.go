// Package main is the entry point for the compliance API server.
//
// It loads configuration, wires the compliance engine, mounts the
// /v1/compliance and /v1/alerts/stream endpoints, and optionally runs the
// compliance monitor in-process. SIGINT and SIGTERM trigger a graceful
// shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	_ "time/tzdata"

	"braveforms/internal/api/handlers"
	"braveforms/internal/app"
	"braveforms/internal/auth"
	"braveforms/internal/config"
	"braveforms/internal/core"
	"braveforms/internal/realtime"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel).With("service", cfg.Service)
	logger.Info("compliance API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	authenticator, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring compliance engine: %w", err)
	}
	defer a.Close()

	complianceHandler := handlers.NewComplianceHandler(
		a.Service, a.Projects, a.Events, a.Alerts, nil, a.Clock, logger,
	)
	srv, err := newServer(cfg, logger, serverDeps{
		Authenticator:  authenticator,
		Metrics:        a.Metrics,
		MetricsHandler: a.MetricsHandler,
		HealthProbes:   a.HealthProbes,
		Compliance:     complianceHandler,
		AlertStream:    realtime.NewWebSocketHandler(a.Broker, logger),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, shutdownTimeout)
	})
	if cfg.Monitor.Enabled {
		monitor, err := a.NewMonitor()
		if err != nil {
			return fmt.Errorf("creating monitor: %w", err)
		}
		g.Go(func() error {
			return monitor.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("compliance API stopped")
	return nil
}

// serverDeps are the pieces main injects into the core server.
type serverDeps struct {
	Authenticator  core.Authenticator
	Metrics        core.MetricsCollector
	MetricsHandler http.Handler
	HealthProbes   []core.HealthProbe
	Compliance     *handlers.ComplianceHandler
	AlertStream    http.Handler
}

func newServer(cfg *config.Config, logger *slog.Logger, deps serverDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Authenticator = deps.Authenticator
	srv.Metrics = deps.Metrics
	srv.MetricsHandler = deps.MetricsHandler
	srv.HealthProbes = deps.HealthProbes
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		deps.Compliance.RegisterRoutes,
		func(r chi.Router) {
			r.Method(http.MethodGet, "/alerts/stream", deps.AlertStream)
		},
	)
	srv.MountRoutes()
	return srv, nil
}

// newLogger creates a JSON slog.Logger at the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
