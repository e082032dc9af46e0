package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	custommw "github.com/zene/zenesync/internal/middleware"
	"github.com/zene/zenesync/internal/observability"
	"github.com/zene/zenesync/internal/repository"
	"github.com/zene/zenesync/internal/services"
)

// RouterConfig carries the dependencies of the HTTP API
type RouterConfig struct {
	Repo         repository.TableRepo
	Hub          *services.WebSocketHub
	APIKey       string
	APIKeyHeader string
	// Metrics is optional
	Metrics *observability.HTTPMetrics
}

// NewRouter builds the chi router serving health, version, tables and the change feed
func NewRouter(cfg RouterConfig) http.Handler {
	tableHandler := NewTableHandler(cfg.Repo, cfg.Hub)
	healthHandler := NewHealthHandler()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(observability.TracingMiddleware())
	if cfg.Metrics != nil {
		r.Use(observability.MetricsMiddleware(cfg.Metrics))
	}
	r.Use(custommw.APIKeyAuth(cfg.APIKey, cfg.APIKeyHeader))

	r.Get("/health", healthHandler.HealthCheck)
	r.Head("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)
	r.Get("/api/version", VersionHandler)

	r.Get("/api/tables/{table}", tableHandler.List)
	r.Post("/api/tables/{table}", tableHandler.Insert)
	r.Patch("/api/tables/{table}", tableHandler.Update)
	r.Delete("/api/tables/{table}", tableHandler.Delete)

	if cfg.Hub != nil {
		r.Get("/api/ws", NewWebSocketHandler(cfg.Hub).HandleConnection)
	}

	return r
}
