package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler reports dependency status for probes and dashboards.
type HealthHandler struct {
	db     *sqlx.DB
	redis  *redis.Client
	logger *zap.Logger
}

// NewHealthHandler constructs a health handler. The Redis client may be nil
// when the instance runs on the in-process revocation fallback.
func NewHealthHandler(db *sqlx.DB, redisClient *redis.Client, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{db: db, redis: redisClient, logger: logger}
}

// Health checks the database and Redis and reports a combined verdict. The
// endpoint always answers 200; the payload carries the status so one response
// shape serves both probes and humans. A broken dependency yields "unhealthy",
// a disabled or unresponsive one yields "unavailable" and degrades the
// overall status.
// @Summary Service health check
// @Description Verifies database and Redis connectivity
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	payload := gin.H{
		"status":   "healthy",
		"database": "unknown",
		"redis":    "unknown",
	}

	dbStatus := h.checkDatabase(ctx, payload)
	payload["database"] = dbStatus

	redisStatus := h.checkRedis(ctx, payload)
	payload["redis"] = redisStatus

	switch {
	case dbStatus == "unhealthy" || redisStatus == "unhealthy":
		payload["status"] = "unhealthy"
	case dbStatus == "unavailable" || redisStatus == "unavailable":
		payload["status"] = "degraded"
	}

	c.JSON(http.StatusOK, payload)
}

// Ready reports process liveness only, with no dependency probes.
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *HealthHandler) checkDatabase(ctx context.Context, payload gin.H) string {
	if h.db == nil {
		return "unavailable"
	}
	var one int
	if err := h.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		h.logger.Error("database health check failed", zap.Error(err))
		payload["database_error"] = err.Error()
		return "unhealthy"
	}
	return "healthy"
}

// checkRedis round-trips a short-lived key. A write that reports success but
// does not read back counts as unavailable rather than unhealthy.
func (h *HealthHandler) checkRedis(ctx context.Context, payload gin.H) string {
	if h.redis == nil {
		return "unavailable"
	}
	if err := h.redis.Set(ctx, "health_check", "1", 10*time.Second).Err(); err != nil {
		h.logger.Error("redis health check failed", zap.Error(err))
		payload["redis_error"] = err.Error()
		return "unhealthy"
	}
	value, err := h.redis.Get(ctx, "health_check").Result()
	if err != nil {
		h.logger.Error("redis health check failed", zap.Error(err))
		payload["redis_error"] = err.Error()
		return "unhealthy"
	}
	if value == "" {
		return "unavailable"
	}
	return "healthy"
}
