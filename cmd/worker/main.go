// Package main provides the entry point for the pipeline worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/narvanalabs/forge/internal/design"
	"github.com/narvanalabs/forge/internal/events"
	"github.com/narvanalabs/forge/internal/generator"
	pgledger "github.com/narvanalabs/forge/internal/ledger/postgres"
	"github.com/narvanalabs/forge/internal/pipeline"
	"github.com/narvanalabs/forge/internal/planner"
	pgqueue "github.com/narvanalabs/forge/internal/queue/postgres"
	"github.com/narvanalabs/forge/pkg/config"
	"github.com/narvanalabs/forge/pkg/logger"
)

func main() {
	log := logger.Default()

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

	// Entries a crashed worker left in 'processing' go back to 'pending'.
	if recovered, err := jobQueue.RecoverStale(context.Background()); err != nil {
		log.Error("failed to recover stale queue entries", "error", err)
	} else if recovered > 0 {
		log.Info("startup recovery completed", "requeued_jobs", recovered)
	}

	// Initialize the generation collaborator
	llm, err := generator.NewOpenAIClient(&generator.OpenAIConfig{
		APIKey:  cfg.Generator.OpenAIAPIKey,
		Model:   cfg.Generator.OpenAIModel,
		BaseURL: cfg.Generator.OpenAIBaseURL,
		Timeout: cfg.Generator.Timeout,
	}, log.Logger)
	if err != nil {
		log.Error("failed to create generation client", "error", err)
		os.Exit(1)
	}

	runner := generator.NewRunner(llm, &generator.RunnerConfig{
		Concurrency: cfg.Generator.Concurrency,
		WaveRetries: cfg.Generator.WaveRetries,
	}, log.Logger)

	broker := events.NewBroker(log.Logger)

	orchCfg := &pipeline.Config{
		WorkDir:          cfg.Worker.WorkDir,
		MaxBuildAttempts: cfg.Worker.MaxBuildAttempts,
		BuildTimeout:     cfg.Worker.BuildTimeout,
		BackendBuildCmd:  cfg.Worker.BackendBuildCmd,
		FrontendBuildCmd: cfg.Worker.FrontendBuildCmd,
		SmokeTestCmd:     cfg.Worker.SmokeTestCmd,
	}

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Ledger:  jobLedger,
		Designs: design.NewFileSource(cfg.DesignDir, log.Logger),
		Planner: planner.New(),
		Runner:  runner,
		Fixer:   llm,
		Broker:  broker,
	}, orchCfg, log.Logger)

	worker := pipeline.NewWorker(&pipeline.WorkerConfig{
		Concurrency: cfg.Worker.MaxConcurrency,
	}, orch, jobQueue, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("starting pipeline worker",
		"concurrency", cfg.Worker.MaxConcurrency,
		"work_dir", cfg.Worker.WorkDir,
	)

	worker.Start(ctx)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig)

	cancel()
	worker.Stop()

	log.Info("pipeline worker shutdown complete")
}
