// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/dagaz/internal/api"
	"github.com/starford/dagaz/internal/calendar"
	"github.com/starford/dagaz/internal/inbox"
	"github.com/starford/dagaz/internal/mcpserver"
	"github.com/starford/dagaz/internal/persistence"
	"github.com/starford/dagaz/internal/pipeline"
	"github.com/starford/dagaz/internal/sse"
	"github.com/starford/dagaz/internal/storage"
	"github.com/starford/dagaz/internal/vision"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("inbox_enabled", cfg.Inbox.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure image directory exists.
	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	// Initialize blob storage.
	blobs, err := storage.NewFS(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Initialize SQLite persistence.
	db, err := persistence.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}
	defer db.Close()

	// Outbound clients.
	extractor := vision.NewClient(cfg.Vision.BaseURL, cfg.Vision.APIKey, cfg.Vision.Model, cfg.Vision.Timeout())
	publisher := calendar.NewClient(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.BaseURL, cfg.Google.TokenURL)

	// SSE broker for pipeline progress.
	broker := sse.NewBroker()
	defer broker.Close()

	// Pipeline runner.
	runner := pipeline.NewRunner(db, blobs, extractor, publisher,
		pipeline.WithNotifier(broker),
		pipeline.WithLogger(logger),
		pipeline.WithRetry(cfg.Pipeline.MaxAttempts, cfg.Pipeline.Backoff()),
	)

	// Build API router.
	h := api.NewHandler(runner, db, blobs)
	apiRouter := api.NewRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start inbox watcher.
	if cfg.Inbox.Enabled {
		if err := os.MkdirAll(cfg.Inbox.Path, 0o755); err != nil {
			return fmt.Errorf("create inbox dir: %w", err)
		}
		watcher := inbox.New(cfg.Inbox.Path, cfg.Inbox.UserID, cfg.Inbox.Timezone, blobs, runner, logger)
		g.Go(func() error {
			return watcher.Watch(gCtx)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdio. Progress logging goes to stderr so
// stdout stays clean for the protocol.
func RunMCP(cfg *Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	blobs, err := storage.NewFS(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	db, err := persistence.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}
	defer db.Close()

	extractor := vision.NewClient(cfg.Vision.BaseURL, cfg.Vision.APIKey, cfg.Vision.Model, cfg.Vision.Timeout())
	publisher := calendar.NewClient(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.BaseURL, cfg.Google.TokenURL)

	runner := pipeline.NewRunner(db, blobs, extractor, publisher,
		pipeline.WithLogger(logger),
		pipeline.WithRetry(cfg.Pipeline.MaxAttempts, cfg.Pipeline.Backoff()),
	)

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(runner, db, blobs).ServeStdio()
}
