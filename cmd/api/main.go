// Package main provides the entry point for the API server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/narvanalabs/forge/internal/api"
	"github.com/narvanalabs/forge/internal/auth"
	"github.com/narvanalabs/forge/internal/events"
	pgledger "github.com/narvanalabs/forge/internal/ledger/postgres"
	pgqueue "github.com/narvanalabs/forge/internal/queue/postgres"
	"github.com/narvanalabs/forge/pkg/config"
	"github.com/narvanalabs/forge/pkg/logger"
)

func main() {
	log := logger.New(slog.LevelInfo, true)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize the job ledger
	ledgerCfg := pgledger.DefaultConfig(cfg.DatabaseDSN)
	jobLedger, err := pgledger.New(ledgerCfg, log.Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer jobLedger.Close()

	if err := jobLedger.Migrate(context.Background()); err != nil {
		log.Error("failed to apply database schema", "error", err)
		os.Exit(1)
	}

	// Initialize the job queue
	jobQueue := pgqueue.NewPostgresQueue(jobLedger.DB(), log.Logger)

	// Initialize the event broker
	broker := events.NewBroker(log.Logger)

	// Initialize auth service
	authCfg := &auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}
	authService := auth.NewService(authCfg, nil, log.Logger) // No API key store for now

	server := api.NewServer(cfg, jobLedger, jobQueue, broker, authService, jobLedger, log.Logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	log.Info("starting API server",
		"host", cfg.APIHost,
		"port", cfg.APIPort,
	)

	if err := server.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	// Give time for graceful shutdown
	time.Sleep(100 * time.Millisecond)
	log.Info("server stopped")
}
