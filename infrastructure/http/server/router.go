package server

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"hr-messenger/auth"
	"hr-messenger/observability"
	"hr-messenger/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	AllowedOrigins []string
	GinMode        string
}

// NewRouter wires the REST history service, health, metrics and the realtime endpoint.
// realtime may be nil when the gateway is served elsewhere.
func NewRouter(cfg RouterConfig, log *slog.Logger, service services.IChatService, tokens auth.Tokens,
	metrics *observability.Metrics, gatherer prometheus.Gatherer, realtime http.Handler) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log, metrics), cors.New(corsConfig(cfg.AllowedOrigins)))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	if realtime != nil {
		r.GET("/ws", gin.WrapH(realtime))
	}

	handler := NewHistoryHandler(log, service)
	api := r.Group("/api")
	if tokens.Enabled() {
		api.Use(Authenticate(tokens))
	}
	api.GET("/messages/:userA/:userB", handler.History)
	api.POST("/messages/read", handler.MarkRead)
	api.GET("/unread/:userId", handler.Unread)
	return r
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = origins
	config.AllowCredentials = true
	return config
}
