package routes

import (
	"net/http"
	"time"

	"github.com/finetunelab/toolgate/app"
	"github.com/finetunelab/toolgate/handlers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthChecker{
		"database": deps.DB,
		"redis":    deps.RateLimiter,
	}, deps.Logger)
	toolHandler := handlers.NewToolHandler(deps.Executor, deps.Logger)
	executionHandler := handlers.NewExecutionHandler(deps.Executions, deps.Logger)
	metricsHandler := handlers.NewMetricsHandler(deps.Metrics, deps.Logger)
	rateLimitHandler := handlers.NewRateLimitHandler(deps.RateLimiter,
		deps.Config.RateLimit.DefaultLimit, deps.Config.RateLimit.DefaultWindow, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tools", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/", toolHandler.HandleListTools)
			r.Get("/metrics", metricsHandler.HandleGetMetrics)
			r.Get("/executions", executionHandler.HandleList)
			r.Get("/executions/{id}", executionHandler.HandleGet)
			r.Get("/limits/{action}", rateLimitHandler.HandleUsage)
			r.Post("/{name}", toolHandler.HandleInvoke)
		})

		// Admin operations (require admin role)
		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))
			r.Delete("/ratelimits/{action}/{identity}", rateLimitHandler.HandleAdminReset)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
