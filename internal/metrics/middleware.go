package metrics

import (
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// Middleware records HTTP metrics for each request.
func Middleware(m *Metrics, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.IncHTTPRequestsInFlight()
		c.Next()
		m.DecHTTPRequestsInFlight()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		m.RecordHTTPRequest(endpoint, c.Request.Method, status, duration)

		if len(c.Errors) > 0 && logger != nil {
			logger.Error("request error", "endpoint", endpoint, "status", status, "error", c.Errors.String())
		}
	}
}
