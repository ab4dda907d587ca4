package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger logs every request through log once it has been served.
func Logger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			log.Error(c.Errors.String(), attrs...)
			return
		}
		log.Debug("request processed", attrs...)
	}
}
