// charterd is the interview engine server: it exposes the HTTP API, drives
// the stage agents over the configured LLM providers, and persists sessions
// in PostgreSQL.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/charter-works/charterd/pkg/api"
	"github.com/charter-works/charterd/pkg/cleanup"
	"github.com/charter-works/charterd/pkg/config"
	"github.com/charter-works/charterd/pkg/consistency"
	"github.com/charter-works/charterd/pkg/database"
	"github.com/charter-works/charterd/pkg/llm"
	"github.com/charter-works/charterd/pkg/llm/factory"
	"github.com/charter-works/charterd/pkg/orchestrator"
	"github.com/charter-works/charterd/pkg/quality"
	"github.com/charter-works/charterd/pkg/sanitize"
	"github.com/charter-works/charterd/pkg/services"
	"github.com/charter-works/charterd/pkg/stages"
	"github.com/charter-works/charterd/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting charterd",
		"version", version.Full(), "http_port", httpPort, "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded", "llm_providers", stats.LLMProviders, "tiers", stats.Tiers)

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Persistence services
	db := dbClient.DB()
	stores := orchestrator.Stores{
		Sessions:     services.NewSessionService(db),
		Stages:       services.NewStageService(db),
		Conversation: services.NewConversationService(db),
		Checkpoints:  services.NewCheckpointService(db),
		Charters:     services.NewCharterService(db),
	}
	slog.Info("Services initialized")

	// 4. LLM providers and router
	providers, err := factory.BuildProviders(cfg)
	if err != nil {
		slog.Error("Failed to build LLM providers", "error", err)
		os.Exit(1)
	}
	router, err := llm.NewRouter(cfg, providers, nil)
	if err != nil {
		slog.Error("Failed to build LLM router", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM router initialized", "providers", len(providers))

	// 5. Interview machinery
	screener, err := sanitize.NewScreener(cfg.Interview.InjectionPatternsPath)
	if err != nil {
		slog.Error("Failed to load injection patterns", "error", err)
		os.Exit(1)
	}
	evaluator := quality.NewEvaluator(router, &cfg.Interview)
	registry := stages.NewRegistry(router)
	checker := consistency.NewChecker(router)

	orch := orchestrator.New(stores, registry, evaluator, checker, screener, cfg.Interview)

	// 6. Retention sweeper
	sweeper := cleanup.NewService(cleanup.DefaultConfig(), stores.Sessions)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 7. HTTP server
	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           api.NewServer(orch, dbClient, stores).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("charterd started successfully")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown. In-flight stage runs hold only in-memory pending
	// deliverables; committed state is already checkpointed and resumable.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
