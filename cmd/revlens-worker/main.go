package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"revlens/internal/amqp"
	"revlens/internal/config"
	"revlens/internal/insight"
	"revlens/internal/llm"
	"revlens/internal/sheets"
	gsheet "revlens/internal/sheets/google"
	"revlens/internal/storage"
	"revlens/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting revlens-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// The worker is the generation host; without a loaded model it can
	// only mark jobs failed, so a failed load is fatal here.
	runtime := llm.NewRuntime(cfg.ModelServerURL, cfg.ModelName)
	if err := runtime.Load(context.Background()); err != nil {
		logger.Error("Model load failed", "model", cfg.ModelName, "error", err)
		os.Exit(1)
	}
	logger.Info("Model ready", "model", cfg.ModelName)

	// Initialize Google Sheets export (optional)
	var reports sheets.ReportWriter
	if cfg.SheetsExportEnabled() {
		client, err := gsheet.New(context.Background(), gsheet.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		reports = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	insightWorker := worker.NewInsightWorker(repo, insight.NewService(runtime), reports, cfg.JobBatchSize)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// On startup, process any pending jobs whose messages were missed
	logger.Info("Performing startup job sweep...")
	if err := insightWorker.StartupCheck(ctx); err != nil {
		logger.Error("Startup job sweep failed", "error", err)
		// Don't exit - continue with normal operation
	}

	// Initialize AMQP client for consuming messages. The poll loop
	// below covers for a missing broker.
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("AMQP unavailable, relying on periodic job sweep", "error", err)
	} else {
		defer amqpClient.Close()
		go func() {
			err := amqpClient.ConsumeInsightJobs(ctx, func(msg *amqp.InsightJobMessage) error {
				return insightWorker.HandleJobMessage(ctx, msg)
			})
			if err != nil && err != context.Canceled {
				logger.Error("Message consumption failed", "error", err)
				cancel()
			}
		}()
	}

	// Periodic sweep for jobs whose queue message was lost
	ticker := time.NewTicker(cfg.JobPollInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := insightWorker.ProcessPendingJobs(ctx); err != nil {
					logger.Error("Periodic job sweep failed", "error", err)
				}
			}
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down worker...")
	cancel()

	// Give in-flight job processing a moment to finish
	time.Sleep(2 * time.Second)
	logger.Info("Worker shutdown complete")
}
