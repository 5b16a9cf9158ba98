package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-engine-go/internal/api"
	"signal-engine-go/internal/config"
	"signal-engine-go/internal/database"
	"signal-engine-go/internal/exchange"
	"signal-engine-go/internal/logger"
	"signal-engine-go/internal/pipeline"
	"signal-engine-go/internal/store"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")
	st := store.New(db)

	// Resolve exchange credentials and build the adapter
	credProvider := exchange.NewConfigCredentialProvider(&cfg.Exchange)
	creds, err := credProvider.DecryptCredentials(context.Background(), "", cfg.Exchange.Name)
	if err != nil {
		log.Fatal("Failed to resolve exchange credentials", zap.Error(err))
	}
	adapter := exchange.NewRestAdapter(&cfg.Exchange, creds, log)

	// Assemble the pipeline
	recorder := pipeline.NewRecorder(st, log)
	ledger := pipeline.NewLedger(st, cfg.Pipeline.AllowHedging, log)
	validator := pipeline.NewValidator(st, []string{cfg.Exchange.Name}, cfg.Pipeline.DedupWindow(), log)
	riskEngine := pipeline.NewRiskEngine()
	policy := pipeline.RetryPolicy{
		MaxRetries: cfg.Pipeline.MaxRetries,
		BaseDelay:  time.Duration(cfg.Pipeline.BackoffBaseMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Pipeline.BackoffMaxMs) * time.Millisecond,
	}
	timeout := time.Duration(cfg.Exchange.RequestTimeout) * time.Second
	coordinator := pipeline.NewCoordinator(st, recorder, ledger, adapter, policy, timeout, log)
	sequencer := pipeline.NewSequencer(cfg.Pipeline.MaxWorkers, log)
	sink := pipeline.NewLogSink(log)
	portfolio := pipeline.FixedPortfolioValuer{
		Value: decimal.NewFromFloat(cfg.Pipeline.DefaultPortfolioValueUsd),
	}

	engine := pipeline.NewEngine(log, st, validator, riskEngine, coordinator, ledger, recorder, sequencer, sink, portfolio, adapter)

	// Start the ingestion API
	server := api.NewServer(engine, cfg.Server.Port, log)
	server.Start()

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Run the engine until shutdown, then stop the API
	engine.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Engine has been shut down.")
}
