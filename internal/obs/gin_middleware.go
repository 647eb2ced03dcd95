package obs

import (
	"time"

	"github.com/gin-gonic/gin"
)

// GinLogger logs one structured entry per request, tagged with the
// request id set by gin-contrib/requestid.
func GinLogger(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}
		if rid := c.Writer.Header().Get("X-Request-ID"); rid != "" {
			fields["request_id"] = rid
		}
		if tenantID, ok := c.Get("tenant_id"); ok {
			fields["tenant_id"] = tenantID
		}

		msg := "request handled"
		if len(c.Errors) > 0 {
			logger.Warn(msg, fields)
			return
		}
		if c.Writer.Status() >= 500 {
			logger.Error(msg, nil, fields)
			return
		}
		logger.Info(msg, fields)
	}
}
