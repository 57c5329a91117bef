package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
)

// RequestLogger logs one line per request through the service logger
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	httpLog := log.WithComponent("http")

	return func(ctx *gin.Context) {
		start := time.Now()
		path := ctx.Request.URL.Path
		if raw := ctx.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		ctx.Next()

		status := ctx.Writer.Status()
		event := httpLog.Logger.Info()
		switch {
		case status >= 500:
			event = httpLog.Logger.Error()
		case status >= 400:
			event = httpLog.Logger.Warn()
		case ctx.Request.URL.Path == "/metrics" || ctx.Request.URL.Path == "/health/live":
			event = httpLog.Logger.Debug()
		}

		if len(ctx.Errors) > 0 {
			event = event.Str("errors", ctx.Errors.String())
		}
		event.
			Str("method", ctx.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", ctx.ClientIP()).
			Int("size", ctx.Writer.Size()).
			Msg("HTTP request")
	}
}
