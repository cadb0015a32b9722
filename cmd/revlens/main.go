package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"revlens/internal/amqp"
	"revlens/internal/config"
	apphttp "revlens/internal/http"
	"revlens/internal/insight"
	"revlens/internal/llm"
	"revlens/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

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

	// Load the model up front. A failed load leaves the API serving
	// record endpoints; AI endpoints report the stored error instead.
	runtime := llm.NewRuntime(cfg.ModelServerURL, cfg.ModelName)
	if err := runtime.Load(context.Background()); err != nil {
		logger.Error("Model load failed, AI endpoints degraded", "model", cfg.ModelName, "error", err)
	} else {
		logger.Info("Model ready", "model", cfg.ModelName)
	}

	insights := insight.NewService(runtime)

	// AMQP is a wakeup channel for the worker; without it the worker's
	// pending sweep still picks jobs up.
	var jobs apphttp.JobPublisher
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("AMQP unavailable, insight jobs rely on the worker poll", "error", err)
	} else {
		defer amqpClient.Close()
		jobs = amqpClient
	}

	srv := apphttp.NewServer(":"+cfg.Port, repo, insights, jobs, apphttp.Options{
		GenerateTimeout: cfg.GenerateTimeout,
		CacheTTL:        cfg.CacheTTL,
		CacheSize:       cfg.CacheSize,
		Ready: func() error {
			if state := runtime.State(); state != llm.StateReady {
				return fmt.Errorf("model runtime is %s", state)
			}
			return nil
		},
	})

	// Configure server timeouts and limits. No write timeout: the
	// synchronous AI endpoints are bounded by GenerateTimeout instead.
	srv.ReadTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting revlens server", "port", cfg.Port, "model", cfg.ModelName)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
