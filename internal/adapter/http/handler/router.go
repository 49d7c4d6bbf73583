package handler

import (
	"webhook-relay/internal/adapter/http/middleware"
	redisStore "webhook-relay/internal/adapter/storage/redis"
	"webhook-relay/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Worker         ports.QueueWorker
	Metrics        ports.MetricsCollector
	InternalAPIKey string
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (verifies PostgreSQL and Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// --- Internal operational routes (pre-shared key) ---
	auth := middleware.InternalAuth(deps.InternalAPIKey, deps.Logger)
	workerHandler := NewWorkerHandler(deps.Worker, deps.Metrics)

	internal := r.Group("/internal", auth)
	{
		internal.POST("/webhook-worker", rl("worker_trigger"), workerHandler.Trigger)
		internal.GET("/webhook-worker/metrics", rl("worker_metrics"), workerHandler.Metrics)
	}

	return r
}
