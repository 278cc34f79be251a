package http

import (
	"time"

	"telegram_ledger/internal/http/handlers"
	"telegram_ledger/internal/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Deps are the collaborators the admin HTTP surface needs
type Deps struct {
	Health    *handlers.HealthHandler
	Integrity *handlers.IntegrityHandler

	Redis     *redis.Client // rate limiting; nil disables it
	JWTSecret []byte
	AdminIDs  []int64

	APIRateLimit  int
	APIRateWindow time.Duration
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health checks (no rate limiting)
	r.GET("/health", d.Health.Health)
	r.GET("/healthz", d.Health.Liveness)
	r.GET("/readyz", d.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(middleware.RedisRateLimit(d.Redis, d.APIRateLimit, d.APIRateWindow))

	admin := v1.Group("/admin")
	admin.Use(middleware.AdminJWT(d.JWTSecret, d.AdminIDs))
	{
		admin.GET("/integrity", d.Integrity.All)
		admin.GET("/accounts/:slug/integrity", d.Integrity.Account)
	}
}
