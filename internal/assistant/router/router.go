// Package router provides assistant service routing.
package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/anticorruption-bot/internal/assistant/handler"
	"github.com/kart-io/anticorruption-bot/pkg/infra/middleware"
)

// Register registers the assistant routes. timeout bounds /v1/ask only.
func Register(engine *gin.Engine, h *handler.AssistantHandler, timeout time.Duration) {
	logger.Info("Registering assistant routes...")

	engine.GET("/healthz", h.Health)
	engine.GET("/metrics", h.Metrics)

	v1 := engine.Group("/v1")
	{
		v1.POST("/ask", middleware.BodyLimit(middleware.DefaultBodyLimit), middleware.Timeout(timeout), h.Ask)
	}

	logger.Info("HTTP routes registered")
}
