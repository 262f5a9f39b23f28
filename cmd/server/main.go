package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"evv/internal/platform/config"
	"evv/internal/platform/httpserver"
	"evv/internal/platform/logger"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer a.close()

	srv := httpserver.New(cfg.Addr, a.router)
	log.Info("starting evv server",
		"addr", cfg.Addr,
		"compliance_profile", cfg.EVV.ComplianceProfile,
		"postgres", cfg.DatabaseURL != "",
		"redis", cfg.Redis.URL != "",
		"kafka", len(cfg.Kafka.Brokers) > 0,
	)

	if err := httpserver.Run(ctx, srv, log); err != nil {
		log.Error("server stopped", "error", err)
	}
}
