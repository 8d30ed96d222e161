// Kestrel - Transaction anomaly detection that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if dir := os.Getenv("KESTREL_MODEL_DIR"); dir != "" {
		cfg.Detection.ModelDir = dir
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"model_dir", cfg.Detection.ModelDir,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	store, err := repository.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load fitted models
	registry, err := pipeline.Load(cfg.Detection)
	if err != nil {
		slog.Error("failed to load model artifacts",
			"model_dir", cfg.Detection.ModelDir,
			"error", err,
		)
		slog.Error("train models first: kestrel-train -out " + cfg.Detection.ModelDir)
		os.Exit(1)
	}
	info := registry.Info()
	slog.Info("models loaded",
		"model_dir", cfg.Detection.ModelDir,
		"features", info.FeatureCount,
		"trees", info.TreeCount,
		"neighbors", info.Neighbors,
		"decision_cut", info.DecisionCut,
	)

	// Initialize alert policy filter
	filter, err := policy.NewFilter(cfg.Detection.AlertPolicy)
	if err != nil {
		slog.Error("failed to compile alert policy", "error", err)
		os.Exit(1)
	}
	slog.Info("alert policy initialized", "expression", filter.Expression())

	// Initialize alert manager and detection pipeline
	alertManager := alerts.NewManager(store, busImpl, filter, cfg.Detection.DedupeOpenAlerts)
	detector := pipeline.NewDetector(registry, store, cacheImpl, busImpl, alertManager, cfg.Cache.ScoreTTL)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, detector)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, detector, alertManager, store, cacheImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║      Transaction Anomaly Detection        ║")
	fmt.Println("  ║      Every outlier gets spotted.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Models:   %s\n", cfg.Detection.ModelDir)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /detect                  - Score a transaction")
	fmt.Println("    POST /detect/batch            - Score a batch of transactions")
	fmt.Println("    GET  /scores/{transactionId}  - Get score by transaction ID")
	fmt.Println("    GET  /alerts                  - List open alerts")
	fmt.Println("    GET  /alerts/{id}             - Get alert by ID")
	fmt.Println("    PUT  /alerts/{id}             - Update alert status")
	fmt.Println("    GET  /alerts/statistics       - Alert counts by status/severity")
	fmt.Println("    GET  /models/info             - Loaded model metadata")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}
