package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zivenyang/auth-api/internal/service"
)

// MetricsHandler serves the Prometheus scrape endpoint.
type MetricsHandler struct {
	scrape http.Handler
}

// NewMetricsHandler wraps the metrics registry. The registry is fixed at
// startup, so the scrape handler is built once here rather than per
// request.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	h := &MetricsHandler{}
	if metrics != nil {
		h.scrape = metrics.Handler()
	}
	return h
}

// Prometheus serves metrics in the Prometheus text format.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.scrape == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.scrape.ServeHTTP(c.Writer, c.Request)
}
