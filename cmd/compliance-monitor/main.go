// Package main is the entry point for the scheduled compliance monitor
// Lambda. Each invocation, typically from an hourly EventBridge rule, runs a
// single monitoring pass over every active project with coordinates.
//
// Connections are opened once per cold start and reused across invocations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	_ "time/tzdata"

	"braveforms/internal/app"
	"braveforms/internal/config"
	"braveforms/internal/scheduler"
)

// PassRunner runs one monitoring pass.
type PassRunner interface {
	RunOnce(ctx context.Context) (scheduler.MonitorSummary, error)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})).With("service", cfg.Service)
	logger.Info("compliance monitor initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire compliance engine", "error", err)
		os.Exit(1)
	}

	monitor, err := a.NewMonitor()
	if err != nil {
		logger.Error("failed to create monitor", "error", err)
		os.Exit(1)
	}

	lambda.Start(newHandler(monitor, logger))
}

// newHandler wraps a monitoring pass as a Lambda handler. Per-project
// failures are reported through alerts and do not fail the invocation; only
// a pass that could not run at all does.
func newHandler(runner PassRunner, logger *slog.Logger) func(ctx context.Context) (scheduler.MonitorSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (scheduler.MonitorSummary, error) {
		summary, err := runner.RunOnce(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "compliance monitor pass failed",
				"error", err,
				"checked", summary.Checked,
			)
			return summary, fmt.Errorf("compliance monitor failed: %w", err)
		}
		return summary, nil
	}
}

func parseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
