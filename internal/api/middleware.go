package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// observe records per-route request counts and latency, then logs the request.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		s.deps.Metrics.ObserveRequest(route, strconv.Itoa(status), float64(elapsed.Microseconds())/1000)

		s.logger.Debug("request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
}
