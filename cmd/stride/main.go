// Stride server — durable agent sessions advanced step by step through a
// delayed work queue, with a Redis-backed state store and live event streams.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/stride/pkg/agent"
	"github.com/codeready-toolchain/stride/pkg/api"
	"github.com/codeready-toolchain/stride/pkg/cleanup"
	"github.com/codeready-toolchain/stride/pkg/config"
	"github.com/codeready-toolchain/stride/pkg/engine"
	"github.com/codeready-toolchain/stride/pkg/events"
	"github.com/codeready-toolchain/stride/pkg/llm"
	"github.com/codeready-toolchain/stride/pkg/messagestore"
	"github.com/codeready-toolchain/stride/pkg/models"
	"github.com/codeready-toolchain/stride/pkg/queue"
	"github.com/codeready-toolchain/stride/pkg/session"
	"github.com/codeready-toolchain/stride/pkg/store"
	"github.com/codeready-toolchain/stride/pkg/tools"
	"github.com/codeready-toolchain/stride/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil {
		logger.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting stride",
		"version", version.Full(),
		"http_port", cfg.HTTPPort)

	ctx := context.Background()

	// 1. Redis-backed state store and event stream.
	rdb, err := store.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	sessionStore := store.NewRedisStore(rdb, cfg.SessionTTL)
	defer func() {
		if err := sessionStore.Close(); err != nil {
			logger.Error("Error closing session store", "error", err)
		}
	}()
	eventStream := events.NewRedisStream(rdb, cfg.EventMaxLen, cfg.EventTTL)
	logger.Info("Connected to Redis")

	// 2. LLM providers. A provider without an API key is simply absent.
	registry := llm.NewRegistry()
	if cfg.AnthropicAPIKey != "" {
		registry.Register(llm.NewAnthropicProvider(cfg.AnthropicAPIKey, logger))
	}
	if cfg.OpenAIAPIKey != "" {
		registry.Register(llm.NewOpenAIProvider(cfg.OpenAIAPIKey, logger))
	}
	logger.Info("LLM providers registered", "providers", registry.Names())

	// 3. Tool host. Without a configured host, tools stay unresolvable and
	// call_tool instructions fail with an explicit error.
	var host tools.Host = tools.NewMemoryHost()
	if cfg.ToolHostURL != "" {
		host = tools.NewHTTPHost(cfg.ToolHostURL, logger)
		logger.Info("Tool host configured", "url", cfg.ToolHostURL)
	}

	// 4. Optional Postgres message mirror.
	execOpts := []agent.Option{}
	if cfg.MessageStoreURL != "" {
		mirror, err := messagestore.Open(ctx, cfg.MessageStoreURL)
		if err != nil {
			logger.Error("Failed to open message store", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := mirror.Close(); err != nil {
				logger.Error("Error closing message store", "error", err)
			}
		}()
		execOpts = append(execOpts, agent.WithMirror(mirror))
		logger.Info("Message mirror enabled")
	}

	execs := agent.NewExecutors(registry, host, logger, execOpts...)

	// 5. Step engine and queue. The engine needs the queue to schedule
	// continuations and the timer queue needs the engine to deliver tasks,
	// so the engine's queue is attached after construction.
	var (
		stepQueue  queue.StepQueue
		timerQueue *queue.TimerQueue
		eng        *engine.Engine
	)
	if cfg.UseDispatchQueue() {
		stepQueue = queue.NewDispatchQueue(cfg.Queue)
		logger.Info("Using external dispatch queue", "provider_url", cfg.Queue.ProviderURL)
	} else {
		timerQueue = queue.NewTimerQueue(func(ctx context.Context, task *models.StepTask) error {
			_, err := eng.ExecuteStep(ctx, task)
			return err
		}, cfg.Queue.MaxAttempts)
		stepQueue = timerQueue
		logger.Info("Using in-process timer queue")
	}
	eng = engine.New(sessionStore, eventStream, execs, agent.DefaultRunner{}, stepQueue, cfg.StepTimeout, logger)

	coordinator := session.NewCoordinator(sessionStore, eventStream, stepQueue, cfg.HistoryDefault, logger)

	// 6. Retention sweeper.
	sweeper := cleanup.NewService(sessionStore, cfg.CleanupInterval, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 7. HTTP server.
	server := api.NewServer(coordinator, eng, eventStream, sessionStore, stepQueue, logger)
	httpServer := server.HTTPServer(":" + cfg.HTTPPort)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if timerQueue != nil {
		timerQueue.Stop()
	}
	logger.Info("Stride stopped")
}
