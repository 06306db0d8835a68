package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/telemetry"
)

// unmatchedRoute labels 404/405 requests so unknown paths do not add label values
const unmatchedRoute = "<no-route>"

// MetricsMiddleware records telemetry.HTTPRequestsTotal{method, path, status} and
// telemetry.HTTPRequestDuration{method, path} for every request. The path label is the matched
// route template from c.FullPath(), e.g. /api/v1/orgs/:orgId/keys, never the raw URL, so org and
// key ids do not end up in label values.
//
// Register it after gin.Recovery() and RequestIDMiddleware so statuses written by error handlers
// are captured.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}

		method := c.Request.Method
		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
