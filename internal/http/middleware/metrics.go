package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/subgate-microservice/subgate-sub000/internal/observability"
)

const (
	metricsRoute   = "/metrics"
	unmatchedRoute = "unmatched"
)

// Metrics records request count, latency and in-flight requests per route
// template. Scrapes of the metrics endpoint are not counted. A nil m turns
// the middleware into a pass-through.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == metricsRoute {
			c.Next()
			return
		}
		if route == "" {
			route = unmatchedRoute
		}

		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()
		c.Next()

		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
