package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies aggregates what the gateway needs.
type Dependencies struct {
	Monitor  Monitor
	Gatherer prometheus.Gatherer // nil serves the default registry
	Logger   *zap.Logger
}

// NewRouter builds the gin engine serving the monitor API.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	h := NewHandlers(deps.Monitor, deps.Logger)
	RegisterRoutes(r, h, deps.Gatherer)
	return r
}

// RegisterRoutes mounts the monitor API on router
func RegisterRoutes(router *gin.Engine, h *Handlers, gatherer prometheus.Gatherer) {
	router.GET("/health", h.Health)
	if gatherer == nil {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	} else {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		sessions := api.Group("/sessions")
		sessions.POST("", h.CreateSession)
		sessions.GET("/:id", h.GetSession)
		sessions.DELETE("/:id", h.CloseSession)
		sessions.POST("/:id/signal", h.Signal)
		sessions.POST("/:id/frames", h.SubmitFrame)
		sessions.POST("/:id/heartbeat", h.Heartbeat)
		sessions.GET("/:id/alerts", h.AlertHistory)
		sessions.GET("/:id/alerts/summary", h.AlertSummary)
		sessions.GET("/:id/ws", h.SessionSocket)

		api.POST("/workers/:id/heartbeat", h.WorkerHeartbeat)
		api.GET("/monitor/snapshot", h.Snapshot)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
