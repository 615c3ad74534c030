package server

import (
	"log/slog"
	"time"

	"hr-messenger/auth"
	"hr-messenger/observability"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs every request through slog and feeds the HTTP metrics.
func RequestLogger(log *slog.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		metrics.ObserveRequest(c.Request.Method, route, status, elapsed)

		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelWarn
		}
		log.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", elapsed,
		)
	}
}

// Authenticate requires a valid Bearer token and stores its user in the request context.
func Authenticate(tokens auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := auth.FromBearer(c.GetHeader("Authorization"))
		if err != nil {
			abort(c, err)
			return
		}
		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			abort(c, err)
			return
		}
		c.Request = c.Request.WithContext(auth.WithUserID(c.Request.Context(), claims.UserID))
		c.Next()
	}
}
