package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/insumed-ar/ventas-api/internal/service"
)

// Metrics records per-request duration and count. The route template is
// used as the path label so parameterized routes do not explode
// cardinality; unmatched routes fall back to the raw URL path.
// MetricsService methods are nil-receiver safe, so a nil service simply
// records nothing.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
