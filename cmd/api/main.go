// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeline/internal/catalog"
	"github.com/capitalize-ai/lifeline/internal/config"
	"github.com/capitalize-ai/lifeline/internal/handler"
	"github.com/capitalize-ai/lifeline/internal/llm"
	natsclient "github.com/capitalize-ai/lifeline/internal/nats"
	"github.com/capitalize-ai/lifeline/internal/service"
	"github.com/capitalize-ai/lifeline/internal/storage"
	"github.com/capitalize-ai/lifeline/pkg/logger"
	"github.com/capitalize-ai/lifeline/pkg/tracing"
)

func main() {
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if envErr != nil {
		log.Debug("no .env file found, using environment variables")
	}
	log.Info("starting API server",
		zap.String("storage_backend", cfg.StorageBackend),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.Bool("auth_enabled", cfg.AuthEnabled),
	)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx := context.Background()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "lifeline", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	checks := map[string]handler.Pinger{}

	// Connect to NATS when configured; it backs the event stream and,
	// optionally, storage.
	var (
		natsClient *natsclient.Client
		publisher  *natsclient.Publisher
	)
	if cfg.NATSEnabled() {
		var err error
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log.Named("nats"))
		if err != nil {
			return err
		}
		defer natsClient.Close()
		checks["nats"] = natsClient

		publisher = natsclient.NewPublisher(natsClient)
		if err := publisher.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
	}

	kv, err := openStorage(ctx, cfg, natsClient)
	if err != nil {
		return err
	}
	defer kv.Close()

	store := storage.NewStore(kv, log.Named("storage"))
	checks["storage"] = store

	// Load agent roster
	agents, err := catalog.Load(cfg.AgentsFile)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}
	log.Info("agents loaded", zap.Int("count", agents.Len()))

	// Initialize completion client
	provider := llm.Provider(cfg.LLMProvider)
	completion := llm.NewCompletion(provider, llm.FactoryFor(provider), log.Named("llm"),
		llm.WithModel(cfg.LLMModel),
	)
	completion.Initialize(cfg.APIKey())
	if completion.DemoMode() {
		log.Warn("no API key configured, serving demo responses")
	}

	// Initialize services
	svcCfg := service.Config{
		UserID:      cfg.DefaultUserID,
		MaxAttempts: cfg.LLMMaxAttempts,
	}
	routerCfg := handler.RouterConfig{
		Checks:             checks,
		Logger:             log,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AuthEnabled:        cfg.AuthEnabled,
		JWTSecret:          cfg.JWTSecret,
		DefaultUserID:      cfg.DefaultUserID,
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
	}
	if publisher != nil {
		svcCfg.Events = publisher
		routerCfg.History = publisher
	}
	routerCfg.Service = service.NewChatService(store, agents, completion, log.Named("chat"), svcCfg)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(routerCfg),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// openStorage opens the configured key-value backend.
func openStorage(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client) (storage.KV, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return storage.NewMemoryKV(), nil
	case config.BackendNATS:
		if natsClient == nil {
			return nil, fmt.Errorf("nats backend requires NATS_URL")
		}
		return natsclient.OpenKeyValue(ctx, natsClient, cfg.NATSKVBucket)
	default:
		return storage.NewSQLiteKV(cfg.StoragePath)
	}
}
