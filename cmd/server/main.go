package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/inboxsift/inboxsift/internal/analysis"
	"github.com/inboxsift/inboxsift/internal/config"
	"github.com/inboxsift/inboxsift/internal/credstore"
	"github.com/inboxsift/inboxsift/internal/database"
	"github.com/inboxsift/inboxsift/internal/mailbox"
	"github.com/inboxsift/inboxsift/internal/normalize"
	"github.com/inboxsift/inboxsift/internal/queue"
	"github.com/inboxsift/inboxsift/internal/service"
	"github.com/inboxsift/inboxsift/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting inboxsift core")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Create components
	authClient := mailbox.NewAuthClient(mailbox.AuthConfig{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthSecret,
		TokenURL:     cfg.OAuthTokenURL,
		BaseURL:      cfg.MailAPIBaseURL,
		Timeout:      cfg.HTTPTimeout,
	})

	var mirror credstore.Mirror
	if cfg.CredentialMirror {
		mirror = db
		logger.Info("credential mirror enabled", "path", cfg.DatabasePath)
	}
	creds := credstore.New(authClient, mirror, logger)

	// Restore mirrored credentials from previous runs
	if err := creds.Restore(ctx); err != nil {
		logger.Error("failed to restore credentials", "error", err)
		os.Exit(1)
	}

	gateway := mailbox.NewGateway(mailbox.GatewayConfig{
		BaseURL: cfg.MailAPIBaseURL,
		Timeout: cfg.HTTPTimeout,
		Backoff: cfg.RetryBackoff,
	}, creds, normalize.New(), logger)

	llmClient := analysis.NewClient(analysis.ClientConfig{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: cfg.HTTPTimeout,
	})
	pipeline := analysis.NewPipeline(llmClient, logger)

	sessions := session.NewIssuer(cfg.SessionSecret, cfg.SessionMaxTTL)

	// The queue handler is bound after the service exists
	var svc *service.Service
	taskQueue := queue.New(queue.Config{
		Workers:    cfg.QueueWorkers,
		MaxRetries: 3,
		Backoff:    cfg.RetryBackoff,
	}, func(ctx context.Context, task queue.Task) error {
		return svc.RunTask(ctx, task)
	}, logger)

	svc = service.New(service.Deps{
		Credentials:           creds,
		Sessions:              sessions,
		Gateway:               gateway,
		Auth:                  authClient,
		Pipeline:              pipeline,
		DB:                    db,
		Queue:                 taskQueue,
		MaxConcurrentAnalysis: cfg.MaxConcurrentAnalysis,
		SessionTTL:            cfg.SessionTTL,
		Logger:                logger,
	})

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		logger.Info("shutting down...")
		cancel()
	}()

	// Start background workers
	taskQueue.Start(ctx)
	logger.Info("core is running, press Ctrl+C to stop", "users_on_file", len(creds.List()))

	taskQueue.Wait()
	logger.Info("core stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
