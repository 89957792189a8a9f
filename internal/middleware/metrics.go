package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zivenyang/auth-api/internal/service"
)

const metricsPath = "/metrics"

// Metrics records method, route, status and latency for every request.
// Scrapes of the metrics endpoint itself are not observed, so the
// histogram reflects application traffic only.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.Request.URL.Path == metricsPath {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		// Unmatched paths fall back to the raw URL so 404 noise stays
		// visible without exploding label cardinality for real routes.
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
