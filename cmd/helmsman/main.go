// Helmsman server — runs the autonomous agent orchestrator and exposes
// its HTTP API.
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

	"github.com/helmsman-ai/helmsman/pkg/api"
	"github.com/helmsman-ai/helmsman/pkg/cleanup"
	"github.com/helmsman-ai/helmsman/pkg/config"
	"github.com/helmsman-ai/helmsman/pkg/eventstream"
	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/orchestrator"
	"github.com/helmsman-ai/helmsman/pkg/sandbox"
	"github.com/helmsman-ai/helmsman/pkg/storage"
	"github.com/helmsman-ai/helmsman/pkg/tools"
	"github.com/helmsman-ai/helmsman/pkg/version"
)

const (
	shutdownTimeout = 30 * time.Second
	reapInterval    = 5 * time.Minute
)

func main() {
	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	logger.Info("Starting "+version.Full(), "port", cfg.Port, "model", cfg.ModelName)

	// 2. Connect to PostgreSQL and apply migrations
	store, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Error closing store", "error", err)
		}
	}()
	logger.Info("Connected to PostgreSQL database")

	// 3. Connect to Redis for session event streams
	streams, err := eventstream.NewRedisProvider(ctx, cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("Failed to connect to Redis", "addr", cfg.RedisAddr(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := streams.Close(); err != nil {
			logger.Error("Error closing event streams", "error", err)
		}
	}()
	logger.Info("Connected to Redis", "addr", cfg.RedisAddr())

	// 4. Model client
	llmClient := llm.NewOpenAIClient(cfg.LLM(), logger)
	logger.Info("LLM client initialized", "base_url", cfg.APIBase, "model", cfg.ModelName)

	// 5. Sandbox manager
	sandboxes, err := sandbox.NewDockerManager(cfg.Sandbox, logger)
	if err != nil {
		logger.Error("Failed to initialize sandbox manager", "error", err)
		os.Exit(1)
	}
	if cfg.Sandbox.Address != "" {
		logger.Info("Using fixed sandbox address", "address", cfg.Sandbox.Address)
	}

	// 6. Optional web search tool
	var searchTool tools.Tool
	if cfg.SearchEnabled() {
		searchTool = tools.NewSearchTool(cfg.GoogleSearchAPIKey, cfg.GoogleSearchEngineID)
		logger.Info("Web search tool enabled")
	}

	// 7. Orchestrator
	orch := orchestrator.New(orchestrator.Options{
		Store:     store,
		Streams:   streams,
		LLM:       llmClient,
		Fixer:     llmClient,
		Sandboxes: sandboxes,
		Agent: orchestrator.AgentDefaults{
			Model:       cfg.ModelName,
			Temperature: float64(cfg.Temperature),
			MaxTokens:   cfg.MaxTokens,
		},
		SearchTool: searchTool,
		Logger:     logger,
	})

	// 8. Background sandbox reaper
	reaper := cleanup.NewService(store, sandboxes,
		time.Duration(cfg.Sandbox.TTLMinutes)*time.Minute, reapInterval, logger)
	reaper.Start(ctx)

	// 9. HTTP server (non-blocking)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.NewServer(orch, logger).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop accepting requests, then stop workers
	// and release sandboxes.
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	reaper.Stop()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("Orchestrator shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
}
