package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zene/zenesync/internal/config"
	"github.com/zene/zenesync/internal/handlers"
	"github.com/zene/zenesync/internal/observability"
	"github.com/zene/zenesync/internal/repository"
	"github.com/zene/zenesync/internal/services"
)

func main() {
	logger := observability.GetLogger().WithField("component", "server")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Initialize(ctx, observability.NewTelemetryConfig("zenesync-server", handlers.Version))
	if err != nil {
		logger.Warnf("Telemetry unavailable: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Telemetry shutdown: %v", err)
		}
	}()

	// Initialize database and repository
	var db *sql.DB
	var repo *repository.TableRepository
	if cfg.UsePostgres() {
		logger.Info("Using PostgreSQL database")
		db, err = repository.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			logger.Errorf("Failed to initialize PostgreSQL database: %v", err)
			os.Exit(1)
		}
		repo = repository.NewTableRepository(db, repository.DialectPostgres)
	} else {
		logger.Infof("Using SQLite database at %s", cfg.DatabasePath)
		db, err = repository.NewSQLiteDB(cfg.DatabasePath)
		if err != nil {
			logger.Errorf("Failed to initialize SQLite database: %v", err)
			os.Exit(1)
		}
		repo = repository.NewTableRepository(db, repository.DialectSQLite)
	}
	defer db.Close()

	if n, err := repository.SeedBookSummaries(ctx, repo); err != nil {
		logger.Warnf("Failed to seed book summaries: %v", err)
	} else if n > 0 {
		logger.Infof("Seeded %d book summaries", n)
	}

	hub := services.NewWebSocketHub()
	go hub.Run(ctx)

	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		logger.Warnf("HTTP metrics unavailable: %v", err)
	}

	if cfg.Security.APIKey == "" {
		logger.Warn("No API key configured, the API is unauthenticated")
	}

	srv := &http.Server{
		Addr: cfg.ServerAddress,
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Repo:         repo,
			Hub:          hub,
			APIKey:       cfg.Security.APIKey,
			APIKeyHeader: cfg.Security.APIKeyHeader,
			Metrics:      httpMetrics,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Zene sync server %s starting on %s", handlers.Version, cfg.ServerAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}
