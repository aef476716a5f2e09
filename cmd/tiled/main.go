// Command tiled serves tile pyramids and feature queries over HTTP.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/IvanBrykalov/tilecache/internal/app"
	"github.com/IvanBrykalov/tilecache/pkg/config"
	"github.com/IvanBrykalov/tilecache/pkg/logger"
	"github.com/IvanBrykalov/tilecache/pkg/telemetry"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	l := logger.NewZapLogger(cfg.Logger.Level)
	defer func() { _ = l.Sync() }()

	l.Info("starting tiled", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, l)
		if err != nil {
			l.Fatal("failed to initialize telemetry", "error", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				l.Error("failed to shutdown telemetry", "error", err)
			}
		}()
	}

	sources, err := cfg.Sources()
	if err != nil {
		l.Fatal("failed to load sources", "error", err)
	}

	a, err := app.New(ctx, cfg, l)
	if err != nil {
		l.Fatal("failed to assemble service", "error", err)
	}
	if err := a.Run(ctx, sources); err != nil {
		l.Error("service stopped with error", "error", err)
	}
}
