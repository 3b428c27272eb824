package httpmw

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elisa-dev/elisa/internal/common/logger"
)

// RequestLogger logs HTTP request details after the handler completes.
// Session routes carry the session id as a structured field so a session's
// API traffic can be correlated with its orchestrator logs. The websocket
// stream endpoint is logged at open time only; its lifetime says nothing
// about request latency.
func RequestLogger(log *logger.Logger, serverName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		fields := []zap.Field{
			zap.String("server", serverName),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
		}
		if sid := c.Param("id"); sid != "" {
			fields = append(fields, zap.String("session_id", sid))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
		}

		if strings.HasSuffix(path, "/stream") {
			log.Debug("stream opened", fields...)
			return
		}

		latency := time.Since(start)
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}
		fields = append(fields,
			zap.Int64("duration_ms", latency.Milliseconds()),
			zap.Int("bytes", size),
		)

		if c.Writer.Status() >= 500 {
			log.Error("http", fields...)
		} else {
			log.Debug("http", fields...)
		}
	}
}
